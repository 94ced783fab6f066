package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/example/vlfs/pkg/api"
	"github.com/example/vlfs/pkg/client"
)

func main() {
	// Parse command line flags
	serverAddr := flag.String("server", "localhost:7300", "VLFS server address")
	operation := flag.String("op", "list", "Operation to perform (list, create, rm, pull, push, free)")
	fileID := flag.Uint64("id", 0, "File id for rm, pull and push")
	fileType := flag.Int("type", api.AllTypes, "File type for create, or type filter for list")
	path := flag.String("file", "-", "Local file for pull and push, - for stdio")
	timeout := flag.Duration("timeout", 30*time.Second, "Timeout per call")

	flag.Parse()

	config := client.DefaultConfig()
	config.ServerAddress = *serverAddr
	config.Timeout = *timeout

	c, err := client.NewClient(config)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	switch *operation {
	case "list":
		files, err := c.ListFiles(ctx, int32(*fileType))
		if err != nil {
			log.Fatalf("ListFiles failed: %v", err)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tSIZE\tSECTORS\tOPEN")
		for _, f := range files {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%v\n", f.ID, f.Type, f.Size, f.Sectors, f.Opened)
		}
		tw.Flush()

	case "create":
		if *fileType < 0 || *fileType > 0xFFFF {
			log.Fatalf("create needs -type between 0 and 65535")
		}
		id, err := c.CreateFile(ctx, uint16(*fileType))
		if err != nil {
			log.Fatalf("CreateFile failed: %v", err)
		}
		fmt.Println(id)

	case "rm":
		if err := c.RemoveFile(ctx, *fileID); err != nil {
			log.Fatalf("RemoveFile failed: %v", err)
		}

	case "pull":
		out := io.Writer(os.Stdout)
		if *path != "-" {
			f, err := os.Create(*path)
			if err != nil {
				log.Fatalf("Failed to create %s: %v", *path, err)
			}
			defer f.Close()
			out = f
		}
		n, err := c.PullFile(ctx, *fileID, out)
		if err != nil {
			log.Fatalf("PullFile failed after %d bytes: %v", n, err)
		}
		log.Printf("Pulled %d bytes", n)

	case "push":
		in := io.Reader(os.Stdin)
		if *path != "-" {
			f, err := os.Open(*path)
			if err != nil {
				log.Fatalf("Failed to open %s: %v", *path, err)
			}
			defer f.Close()
			in = f
		}
		n, err := c.PushFile(ctx, *fileID, in)
		if err != nil {
			log.Fatalf("PushFile failed: %v", err)
		}
		log.Printf("Pushed %d bytes", n)

	case "free":
		info, err := c.Free(ctx)
		if err != nil {
			log.Fatalf("Free failed: %v", err)
		}
		fmt.Printf("Files: %d\n", info.Files)
		fmt.Printf("Free sectors: %d\n", info.FreeSectors)
		fmt.Printf("Free bytes: %d\n", info.FreeBytes)

	default:
		fmt.Printf("Unsupported operation: %s\n", *operation)
		os.Exit(1)
	}
}
