package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/mdbook-plantuml/internal"
	pkgconfig "github.com/starford/mdbook-plantuml/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// options builds the common options; book is empty for commands that do
// not take --book.
func options(cmd *cli.Command, book string) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts := []internal.Option{internal.WithConfig(cfg)}
	if book != "" {
		opts = append(opts, internal.WithBookRoot(book))
	}
	return opts, nil
}

func preprocess(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, "")
	if err != nil {
		return err
	}
	return internal.Preprocess(ctx, opts...)
}

func supports(_ context.Context, cmd *cli.Command) error {
	renderer := cmd.Args().First()
	if renderer == "" {
		return cli.Exit("supports: renderer name required", 1)
	}
	opts, err := options(cmd, cmd.String("book"))
	if err != nil {
		return err
	}
	ok, err := internal.Supports(renderer, opts...)
	if err != nil {
		return err
	}
	if !ok {
		return cli.Exit("", 1)
	}
	return nil
}

func render(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return cli.Exit("render: at least one file required", 1)
	}
	opts, err := options(cmd, "")
	if err != nil {
		return err
	}
	paths, err := internal.RenderFiles(ctx, files, cmd.String("out"), cmd.String("format"), opts...)
	for _, p := range paths {
		fmt.Println(p)
	}
	return err
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, cmd.String("book"))
	if err != nil {
		return err
	}
	return internal.Serve(ctx, opts...)
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, cmd.String("book"))
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func cachePath(_ context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, cmd.String("book"))
	if err != nil {
		return err
	}
	p, err := internal.CachePath(opts...)
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}

func cacheList(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, cmd.String("book"))
	if err != nil {
		return err
	}
	rows, err := internal.CacheList(ctx, opts...)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tFORMAT\tSIZE\tCHAPTER\tRENDERED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Path, r.Format, r.Size, r.Chapter, r.RenderedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func cacheClear(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd, cmd.String("book"))
	if err != nil {
		return err
	}
	n, err := internal.CacheClear(ctx, opts...)
	fmt.Printf("removed %d artifacts\n", n)
	return err
}

func bookFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "book",
		Aliases: []string{"b"},
		Usage:   "Book root directory (the one holding book.toml)",
		Value:   ".",
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "mdbook-plantuml",
		Usage:  "mdBook preprocessor that renders PlantUML diagrams to images",
		Action: preprocess,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to an optional YAML config file",
				Sources: cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "supports",
				Usage:     "Check whether a renderer is supported (exit code 0) or not (1)",
				ArgsUsage: "<renderer>",
				Flags:     []cli.Flag{bookFlag()},
				Action:    supports,
			},
			{
				Name:      "render",
				Usage:     "Render .puml files or the diagram blocks of Markdown files",
				ArgsUsage: "FILE...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output directory",
						Value:   ".",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format (svg, png, txt, ...)",
					},
				},
				Action: render,
			},
			{
				Name:   "serve",
				Usage:  "Render the book's diagrams and serve a live preview API",
				Flags:  []cli.Flag{bookFlag()},
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve diagram tools over the Model Context Protocol on stdio",
				Flags:  []cli.Flag{bookFlag()},
				Action: serveMCP,
			},
			{
				Name:  "cache",
				Usage: "Inspect or clear rendered diagram artifacts",
				Commands: []*cli.Command{
					{Name: "path", Usage: "Print the artifact directory", Flags: []cli.Flag{bookFlag()}, Action: cachePath},
					{Name: "list", Usage: "List rendered artifacts", Flags: []cli.Flag{bookFlag()}, Action: cacheList},
					{Name: "clear", Usage: "Delete every rendered artifact", Flags: []cli.Flag{bookFlag()}, Action: cacheClear},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		var lerr *internal.LoggingError
		if errors.As(err, &lerr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
