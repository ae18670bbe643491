package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Shizuku-Yume/Arcaferry/internal"
	"github.com/Shizuku-Yume/Arcaferry/internal/card"
	"github.com/Shizuku-Yume/Arcaferry/internal/export"
	"github.com/Shizuku-Yume/Arcaferry/internal/parser"
	"github.com/Shizuku-Yume/Arcaferry/internal/png"
	"github.com/Shizuku-Yume/Arcaferry/internal/prompt"
	"github.com/Shizuku-Yume/Arcaferry/internal/source"
	pkgconfig "github.com/Shizuku-Yume/Arcaferry/pkg/config"
)

func serve(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func extract(ctx context.Context, cmd *cli.Command) error {
	data, err := os.ReadFile(cmd.String("input"))
	if err != nil {
		return err
	}
	payload, err := png.FindCardPayload(data)
	if err != nil {
		return err
	}
	if payload == nil {
		return fmt.Errorf("no embedded card payload in %s", cmd.String("input"))
	}
	fmt.Println(payload.JSON)
	return nil
}

func embed(ctx context.Context, cmd *cli.Command) error {
	cardJSON, err := os.ReadFile(cmd.String("card"))
	if err != nil {
		return err
	}
	var c card.Card
	if err := json.Unmarshal(cardJSON, &c); err != nil {
		return fmt.Errorf("invalid card JSON: %w", err)
	}
	if c.Spec == "" {
		c.Spec = card.SpecName
		c.SpecVersion = card.SpecVersion
	}

	var avatar []byte
	if p := cmd.String("avatar"); p != "" {
		avatar, err = os.ReadFile(p)
		if err != nil {
			return err
		}
	}

	out, err := export.CardPNG(c, avatar)
	if err != nil {
		return err
	}
	return os.WriteFile(cmd.String("output"), out, 0o644)
}

func strip(ctx context.Context, cmd *cli.Command) error {
	data, err := os.ReadFile(cmd.String("input"))
	if err != nil {
		return err
	}

	keywords := []string{"ccv3", "chara"}
	if kw := cmd.String("keyword"); kw != "" {
		keywords = []string{kw}
	}
	out := data
	for _, kw := range keywords {
		out, err = png.RemoveText(out, kw)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(cmd.String("output"), out, 0o644)
}

// batchEmbed converts every *.json card in a directory into a card PNG,
// a few files at a time.
func batchEmbed(ctx context.Context, cmd *cli.Command) error {
	inDir := cmd.String("input")
	outDir := cmd.String("output")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	entries, err := os.ReadDir(inDir)
	if err != nil {
		return err
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := e.Name()
		g.Go(func() error {
			raw, err := os.ReadFile(filepath.Join(inDir, name))
			if err != nil {
				return err
			}
			var c card.Card
			if err := json.Unmarshal(raw, &c); err != nil {
				return fmt.Errorf("%s: invalid card JSON: %w", name, err)
			}
			if c.Spec == "" {
				c.Spec = card.SpecName
				c.SpecVersion = card.SpecVersion
			}
			out, err := export.CardPNG(c, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			target := filepath.Join(outDir, strings.TrimSuffix(name, ".json")+".png")
			return os.WriteFile(target, out, 0o644)
		})
	}
	return g.Wait()
}

func loadDocument(path string) (*source.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc source.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid document JSON: %w", err)
	}
	return &doc, nil
}

func buildPrompt(ctx context.Context, cmd *cli.Command) error {
	var labels []string
	if raw := cmd.String("labels"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &labels); err != nil {
			return fmt.Errorf("invalid labels JSON array: %w", err)
		}
	} else if path := cmd.String("document"); path != "" {
		doc, err := loadDocument(path)
		if err != nil {
			return err
		}
		labels = source.Flatten(doc).HiddenLabels()
	} else {
		return fmt.Errorf("either --labels or --document is required")
	}
	if len(labels) == 0 {
		return fmt.Errorf("no hidden attribute labels")
	}
	fmt.Println(prompt.BuildDisclosurePrompt(labels))
	return nil
}

func recoverCard(ctx context.Context, cmd *cli.Command) error {
	doc, err := loadDocument(cmd.String("document"))
	if err != nil {
		return err
	}

	reply := ""
	if p := cmd.String("reply"); p != "" {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		reply = string(data)
	}

	var recovered map[string]string
	if reply != "" {
		if parser.IsRefusal(reply) {
			fmt.Fprintln(os.Stderr, "warning: reply looks like a refusal, building base card")
		} else {
			flat := source.Flatten(doc)
			recovered = parser.Parse(reply, parser.Expectations(flat.HiddenCandidates), cmd.String("persona"))
		}
	}

	c := card.BuildCard(doc, recovered, nil)
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "arcaferry",
		Usage: "Recover role-play character profiles into portable CCv3 card PNGs",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the MCP server over the card library",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "config",
						Aliases:     []string{"c"},
						Usage:       "Path to config file",
						DefaultText: "config/config.yaml",
						Value:       "config/config.yaml",
						Sources:     cli.EnvVars("APP_CONFIG_FILE"),
					},
				},
			},
			{
				Name:   "extract",
				Usage:  "Print the card JSON embedded in a PNG",
				Action: extract,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Card PNG to read", Required: true},
				},
			},
			{
				Name:   "embed",
				Usage:  "Embed a CCv3 card JSON into a PNG avatar",
				Action: embed,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "card", Usage: "Card JSON file", Required: true},
					&cli.StringFlag{Name: "avatar", Usage: "Avatar PNG (placeholder generated when omitted)"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output PNG path", Required: true},
				},
			},
			{
				Name:   "strip",
				Usage:  "Remove embedded card chunks from a PNG",
				Action: strip,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Card PNG to clean", Required: true},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output PNG path", Required: true},
					&cli.StringFlag{Name: "keyword", Aliases: []string{"k"}, Usage: "Single metadata keyword to remove (default: both card chunks)"},
				},
			},
			{
				Name:   "batch",
				Usage:  "Embed every card JSON in a directory into PNGs",
				Action: batchEmbed,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Directory of card JSON files", Required: true},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Directory for the generated PNGs", Required: true},
				},
			},
			{
				Name:   "prompt",
				Usage:  "Build the configuration-export prompt for a source document",
				Action: buildPrompt,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "document", Aliases: []string{"d"}, Usage: "Platform document JSON file"},
					&cli.StringFlag{Name: "labels", Aliases: []string{"l"}, Usage: "JSON array of hidden attribute labels"},
				},
			},
			{
				Name:   "recover",
				Usage:  "Build the final card from a source document and a disclosure reply",
				Action: recoverCard,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "document", Aliases: []string{"d"}, Usage: "Platform document JSON file", Required: true},
					&cli.StringFlag{Name: "reply", Aliases: []string{"r"}, Usage: "Disclosure reply text file"},
					&cli.StringFlag{Name: "persona", Aliases: []string{"p"}, Usage: "Persona name to replace with {{user}}"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
