package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/example/vlfs/pkg/fuse"
	"github.com/example/vlfs/pkg/vlfs"
)

func main() {
	// Parse command line arguments
	mountPoint := flag.String("mount", "", "Mount point")
	imagePath := flag.String("image", "", "Flash image to mount")
	reedSolomon := flag.Bool("reed-solomon", false, "Image table entries use Reed-Solomon parity")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *mountPoint == "" || *imagePath == "" {
		fmt.Println("Error: -mount and -image are required")
		flag.Usage()
		os.Exit(1)
	}

	// Ensure mount point exists
	if _, err := os.Stat(*mountPoint); os.IsNotExist(err) {
		log.Printf("Creating mount point: %s", *mountPoint)
		if err := os.MkdirAll(*mountPoint, 0755); err != nil {
			log.Fatalf("Failed to create mount point: %v", err)
		}
	}

	cfg := vlfs.DefaultConfig()
	cfg.Verbose = *debug
	if *reedSolomon {
		codec, err := vlfs.NewReedSolomonCodec()
		if err != nil {
			log.Fatalf("Failed to create codec: %v", err)
		}
		cfg.Codec = codec
	}

	options := fuse.MountOptions{
		MountPoint: *mountPoint,
		ImagePath:  *imagePath,
		Config:     cfg,
		Debug:      *debug,
	}
	if err := fuse.Mount(options); err != nil {
		fmt.Printf("Error mounting filesystem: %v\n", err)
		os.Exit(1)
	}
}
