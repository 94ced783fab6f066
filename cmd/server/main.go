package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/vlfs/pkg/flash"
	"github.com/example/vlfs/pkg/server"
	"github.com/example/vlfs/pkg/vlfs"
)

func main() {
	// Parse command line flags
	listenAddr := flag.String("listen", ":7300", "Network address to listen on")
	imagePath := flag.String("image", "./flash.img", "Flash image file, created if missing")
	imageSize := flag.Uint("size", 16*1024*1024, "Flash image size in bytes")
	maxConcurrent := flag.Int("max-concurrent", 16, "Maximum concurrent requests")
	maxConnections := flag.Int("max-connections", 64, "Maximum client connections")
	requestTimeout := flag.Int("timeout", 30, "Request timeout in seconds")
	queueDepth := flag.Int("queue-depth", 64, "Depth of the flash write queue")
	maxOpen := flag.Int("max-open", 10, "Maximum files open at once")
	reedSolomon := flag.Bool("reed-solomon", false, "Protect table entries with Reed-Solomon parity")
	syncWrites := flag.Bool("sync", false, "fsync the image after every flash mutation")
	format := flag.Bool("format", false, "Erase the image before serving")
	verbose := flag.Bool("verbose", false, "Log every flash operation")

	flag.Parse()

	// Open the flash image
	image, err := flash.OpenFileFlash(*imagePath, uint32(*imageSize))
	if err != nil {
		log.Fatalf("Failed to open flash image: %v", err)
	}
	defer image.Close()
	image.Sync = *syncWrites
	chip := flash.NewStatFlash(image)

	// Create the file system
	cfg := vlfs.DefaultConfig()
	cfg.QueueDepth = *queueDepth
	cfg.MaxOpenFiles = *maxOpen
	cfg.Verbose = *verbose
	if *reedSolomon {
		codec, err := vlfs.NewReedSolomonCodec()
		if err != nil {
			log.Fatalf("Failed to create codec: %v", err)
		}
		cfg.Codec = codec
	}

	ctx := context.Background()
	fileSystem, err := vlfs.New(chip, flash.NewSoftwareCrc(), cfg)
	if err != nil {
		log.Fatalf("Failed to create file system: %v", err)
	}
	if err := fileSystem.Init(ctx); err != nil {
		if errors.Is(err, vlfs.ErrCodecMismatch) {
			log.Fatalf("Failed to initialize file system: %v (was the image created with a different -reed-solomon setting?)", err)
		}
		log.Fatalf("Failed to initialize file system: %v", err)
	}
	if *format {
		if err := fileSystem.Format(ctx); err != nil {
			log.Fatalf("Failed to format: %v", err)
		}
	}

	// Create the server configuration
	config := &server.Config{
		ListenAddress:  *listenAddr,
		MaxConcurrent:  *maxConcurrent,
		MaxConnections: *maxConnections,
		ChunkSize:      vlfs.MaxSectorData,
		RequestTimeout: *requestTimeout,
	}
	vlfsServer, err := server.NewVLFSServer(config, fileSystem)
	if err != nil {
		log.Fatalf("Failed to create VLFS server: %v", err)
	}

	// Start the server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- vlfsServer.Start()
	}()

	// Wait for signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for either the server to error or a signal
	select {
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		vlfsServer.Stop()
	}

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := fileSystem.Close(closeCtx); err != nil {
		log.Printf("Failed to flush file system: %v", err)
	}
	log.Printf("Flash usage: %s", chip.Stat())
	log.Println("VLFS server stopped")
}
