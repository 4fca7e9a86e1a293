package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/dergi/internal/app"
	"github.com/andresuchdata/dergi/internal/config"
	"github.com/andresuchdata/dergi/pkg/logger"
)

type appKey struct{}

func initApp(c *cli.Context) error {
	switch c.Args().First() {
	case "", "help", "h":
		return nil
	}

	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.SetLevel(c.String("log-level"))

	a, err := app.New(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	c.Context = context.WithValue(c.Context, appKey{}, a)
	return nil
}

func closeApp(c *cli.Context) error {
	if a, ok := c.Context.Value(appKey{}).(*app.App); ok && a != nil {
		return a.Close()
	}
	return nil
}

func fromContext(c *cli.Context) *app.App {
	return c.Context.Value(appKey{}).(*app.App)
}

func main() {
	cliApp := &cli.App{
		Name:  "dergictl",
		Usage: "Publish and maintain magazine issues",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: initApp,
		After:  closeApp,
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Create the metadata schema",
				Action: runMigrate,
			},
			{
				Name:  "upload",
				Usage: "Render a PDF or image and publish it as an issue",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Local PDF or image"},
					&cli.StringFlag{Name: "drive-file-id", Usage: "Google Drive file id instead of --file"},
					&cli.StringFlag{Name: "cover", Usage: "Optional cover image"},
					&cli.StringFlag{Name: "title", Usage: "Issue title", Required: true},
					&cli.IntFlag{Name: "issue", Aliases: []string{"n"}, Usage: "Issue number", Required: true},
					&cli.TimestampFlag{Name: "date", Usage: "Publication date", Layout: "2006-01-02"},
					&cli.BoolFlag{Name: "published", Usage: "Publish immediately"},
				},
				Action: runUpload,
			},
			{
				Name:  "list",
				Usage: "List issues newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20},
					&cli.IntFlag{Name: "offset"},
				},
				Action: runList,
			},
			{
				Name:  "delete",
				Usage: "Delete an issue's objects and record",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Issue id", Required: true},
					&cli.IntFlag{Name: "issue", Aliases: []string{"n"}, Usage: "Issue number", Required: true},
				},
				Action: runDelete,
			},
			{
				Name:  "rename",
				Usage: "Move an issue to a new number",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Issue id", Required: true},
					&cli.IntFlag{Name: "from", Usage: "Current issue number", Required: true},
					&cli.IntFlag{Name: "to", Usage: "New issue number", Required: true},
					&cli.StringFlag{Name: "title", Usage: "New title"},
				},
				Action: runRename,
			},
			{
				Name:  "drive",
				Usage: "Browse the Google Drive source folder",
				Subcommands: []*cli.Command{
					{
						Name:  "ls",
						Usage: "List the PDFs of a folder",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "folder-id", Usage: "Folder id (default root)"},
							&cli.StringFlag{Name: "path", Usage: "Folder path, e.g. Dergi/2024"},
						},
						Action: runDriveList,
					},
					{
						Name:  "pull",
						Usage: "Download the PDFs of a folder",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "folder-id", Required: true},
							&cli.StringFlag{Name: "dir", Value: "./data/drive"},
						},
						Action: runDrivePull,
					},
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("dergictl failed")
	}
}
