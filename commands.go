package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"ComicDetServer/container"
	"ComicDetServer/filehash"
	"ComicDetServer/imagecodec"
	"ComicDetServer/logger"
	"ComicDetServer/ml"
	"ComicDetServer/pipeline"
	"ComicDetServer/task"

	"github.com/spf13/cobra"
)

// interruptible returns a task that is cancelled on SIGINT or SIGTERM.
func interruptible() (*task.Task, func()) {
	t, h := task.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		h.Close()
	}()
	return t, stop
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <file>",
		Short: "Extract and detect every page of a comic and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.LogLevel, cfg.Development); err != nil {
				return err
			}
			defer logger.Sync()
			dec, err := ml.NewDecoder(cfg.Model)
			if err != nil {
				return err
			}
			backend := newBackend(cfg)
			defer backend.Close()

			c, err := container.OpenPath(args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			t, stop := interruptible()
			defer stop()
			book, err := pipeline.New(imagecodec.Default()).Process(cmd.Context(), t, c, backend, dec)
			if err != nil {
				return err
			}
			return printJSON(book)
		},
	}
}

func hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <file>",
		Short: "Print the BLAKE2b-512 digest of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			t, stop := interruptible()
			defer stop()
			res, err := filehash.Sum(t, f)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %d  %s\n", res.Hex(), res.Size, args[0])
			return nil
		},
	}
}

func pageCmd() *cobra.Command {
	var size pipeline.Size
	cmd := &cobra.Command{
		Use:   "page <file> <pos> <out.png>",
		Short: "Write one page of a comic as PNG",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bad position %q: %w", args[1], err)
			}
			c, err := container.OpenPath(args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			t, stop := interruptible()
			defer stop()
			img, err := pipeline.New(imagecodec.Default()).PageImage(t, c, pos, &size)
			if err != nil {
				return err
			}
			out, err := os.Create(args[2])
			if err != nil {
				return err
			}
			if err := imagecodec.EncodePNG(out, img); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		},
	}
	cmd.Flags().IntVar(&size.Width, "width", 0, "maximum width, 0 keeps it")
	cmd.Flags().IntVar(&size.Height, "height", 0, "maximum height, 0 keeps it")
	return cmd
}
