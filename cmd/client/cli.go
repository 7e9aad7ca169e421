package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pyropy/chunkserver/core/client"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "chunkctl",
		Usage: "talk to a single chunk server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "localhost:50052",
				EnvVars: []string{"CHUNKSERVER_ADDR"},
				Usage:   "chunk server address",
			},
		},
		Commands: []*cli.Command{
			createCmd(),
			spaceCmd(),
			appendCmd(),
			readCmd(),
			listCmd(),
			statCmd(),
		},
	}
}

func handleFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "handle",
		Required: true,
		Usage:    "chunk handle",
	}
}

func createCmd() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create an empty chunk, truncating an existing one",
		Flags: []cli.Flag{handleFlag()},
		Action: func(ctx *cli.Context) error {
			return withClient(ctx, func(c *client.Client) error {
				overwritten, err := c.Create(ctx.String("handle"))
				if err != nil {
					return err
				}

				if overwritten {
					fmt.Fprintln(ctx.App.Writer, "chunk created, previous content discarded")
					return nil
				}

				fmt.Fprintln(ctx.App.Writer, "chunk created")
				return nil
			})
		},
	}
}

func spaceCmd() *cli.Command {
	return &cli.Command{
		Name:  "space",
		Usage: "Print the free space left in a chunk",
		Flags: []cli.Flag{handleFlag()},
		Action: func(ctx *cli.Context) error {
			return withClient(ctx, func(c *client.Client) error {
				free, err := c.GetChunkSpace(ctx.String("handle"))
				if err != nil {
					return err
				}

				fmt.Fprintln(ctx.App.Writer, free)
				return nil
			})
		},
	}
}

func appendCmd() *cli.Command {
	return &cli.Command{
		Name:  "append",
		Usage: "Append data to a chunk",
		Flags: []cli.Flag{
			handleFlag(),
			&cli.StringFlag{
				Name:  "data",
				Usage: "data to append",
			},
			&cli.StringFlag{
				Name:  "file-path",
				Usage: "append the content of this file instead of --data",
			},
		},
		Action: func(ctx *cli.Context) error {
			data := []byte(ctx.String("data"))
			if filePath := ctx.String("file-path"); filePath != "" {
				content, err := os.ReadFile(filePath)
				if err != nil {
					return err
				}
				data = content
			}

			return withClient(ctx, func(c *client.Client) error {
				size, err := c.Append(ctx.String("handle"), data)
				if err != nil {
					return err
				}

				fmt.Fprintln(ctx.App.Writer, "appended", len(data), "bytes, chunk size", size)
				return nil
			})
		},
	}
}

func readCmd() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "Read bytes from a chunk and write them to stdout",
		Flags: []cli.Flag{
			handleFlag(),
			&cli.Int64Flag{
				Name:  "offset",
				Usage: "start offset",
			},
			&cli.Int64Flag{
				Name:     "length",
				Required: true,
				Usage:    "number of bytes to read",
			},
		},
		Action: func(ctx *cli.Context) error {
			return withClient(ctx, func(c *client.Client) error {
				data, err := c.Read(ctx.String("handle"), ctx.Int64("offset"), ctx.Int64("length"))
				if err != nil {
					return err
				}

				_, err = ctx.App.Writer.Write(data)
				return err
			})
		},
	}
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List chunks held by the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "only list handles with this prefix",
			},
		},
		Action: func(ctx *cli.Context) error {
			return withClient(ctx, func(c *client.Client) error {
				chunks, err := c.ListChunks(ctx.String("prefix"))
				if err != nil {
					return err
				}

				for _, chunk := range chunks {
					fmt.Fprintf(ctx.App.Writer, "%s\t%d\t%d\n", chunk.Handle, chunk.Size, chunk.Generation)
				}

				return nil
			})
		},
	}
}

func statCmd() *cli.Command {
	return &cli.Command{
		Name:  "stat",
		Usage: "Print size, generation and timestamps of a chunk",
		Flags: []cli.Flag{handleFlag()},
		Action: func(ctx *cli.Context) error {
			return withClient(ctx, func(c *client.Client) error {
				info, err := c.Stat(ctx.String("handle"))
				if err != nil {
					return err
				}

				fmt.Fprintf(ctx.App.Writer, "%s\t%d\t%d\t%s\t%s\n", info.Handle, info.Size, info.Generation,
					info.CreatedAt.Format(time.RFC3339), info.ModifiedAt.Format(time.RFC3339))
				return nil
			})
		},
	}
}

func withClient(ctx *cli.Context, f func(c *client.Client) error) error {
	c, err := client.NewClient(ctx.String("addr"))
	if err != nil {
		return err
	}
	defer c.Close()

	return f(c)
}
