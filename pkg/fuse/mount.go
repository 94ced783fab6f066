package fuse

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/example/vlfs/pkg/flash"
	"github.com/example/vlfs/pkg/vlfs"
)

// MountOptions contains options for mounting an image
type MountOptions struct {
	MountPoint string
	ImagePath  string
	Config     vlfs.Config
	Debug      bool
}

// Open loads the image at path into memory and boots VLFS on the copy, so
// the image file itself is never modified.
func Open(ctx context.Context, path string, cfg vlfs.Config) (*vlfs.VLFS, error) {
	mem, err := flash.LoadMemoryFlash(path)
	if err != nil {
		return nil, err
	}
	v, err := vlfs.New(mem, flash.NewSoftwareCrc(), cfg)
	if err != nil {
		return nil, err
	}
	if err := v.Init(ctx); err != nil {
		v.Close(ctx)
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return v, nil
}

// Mount mounts the image read-only and serves it until SIGINT or SIGTERM
func Mount(options MountOptions) error {
	ctx := context.Background()

	log.Printf("Loading flash image %s", options.ImagePath)
	v, err := Open(ctx, options.ImagePath, options.Config)
	if err != nil {
		return err
	}
	defer v.Close(ctx)

	mountOpts := []fuse.MountOption{
		fuse.FSName("vlfs"),
		fuse.Subtype("vlfs"),
		fuse.ReadOnly(),
	}
	if options.Debug {
		fuse.Debug = func(msg interface{}) {
			fmt.Printf("FUSE: %v\n", msg)
		}
	}

	log.Printf("Mounting FUSE filesystem at %s", options.MountPoint)
	c, err := fuse.Mount(options.MountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("failed to mount: %w", err)
	}
	defer c.Close()

	served := make(chan error, 1)
	go func() {
		served <- fs.Serve(c, NewFS(v))
	}()

	log.Println("FUSE filesystem mounted, press Ctrl+C to unmount")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-served:
		if err != nil {
			return fmt.Errorf("error serving filesystem: %w", err)
		}
		return nil
	case <-sig:
	}

	log.Println("Unmounting filesystem...")
	if err := Unmount(options.MountPoint); err != nil {
		log.Printf("Warning: failed to unmount cleanly: %v", err)
	}
	return <-served
}

// Unmount unmounts the filesystem
func Unmount(mountPoint string) error {
	return fuse.Unmount(mountPoint)
}
