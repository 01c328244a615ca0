package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/asset-forge/pakex/pkg/batch"
	"github.com/asset-forge/pakex/pkg/pak"
	"github.com/asset-forge/pakex/pkg/usmap"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		listCommand()
	case "search":
		searchCommand()
	case "extract":
		extractCommand()
	case "decode":
		decodeCommand()
	case "batch":
		batchCommand()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `pakex - encrypted game archive asset extractor

Usage:
  pakex <command> [options]

Commands:
  list     List asset paths in the archive
  search   List asset paths containing a substring
  extract  Extract one entry's raw bytes
  decode   Extract and decode one asset to JSON
  batch    Extract and decode assets listed in a JSON config

The AES key is read from -key, or from the KEY environment variable
(a .env file in the working directory is honored).
`)
}

// loadKey resolves the decryption key: explicit flag first, then the
// environment. Archives without encryption need no key at all.
func loadKey(flagValue string) []byte {
	godotenv.Load()

	raw := flagValue
	if raw == "" {
		raw = os.Getenv("KEY")
	}
	if raw == "" {
		return nil
	}

	key, err := pak.ParseKey(raw)
	if err != nil {
		log.Fatal().Msgf("invalid key: %v", err)
	}
	return key
}

func openArchive(pakPath, key string) *pak.Archive {
	archive, err := pak.Open(pakPath, pak.Options{Key: loadKey(key)})
	if err != nil {
		log.Fatal().Msgf("open %s: %v", pakPath, err)
	}
	return archive
}

func loadSchema(path string) *usmap.Schema {
	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Msgf("open schema: %v", err)
	}
	defer f.Close()

	schema, err := usmap.Load(f)
	if err != nil {
		log.Fatal().Msgf("load schema %s: %v", path, err)
	}
	return schema
}

func listCommand() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	pakPath := fs.String("pak", "", "archive file (required)")
	key := fs.String("key", "", "AES key as hex")
	fs.Parse(os.Args[2:])

	archive := openArchive(requireFlag(fs, "pak", *pakPath), *key)
	defer archive.Close()

	count := 0
	for _, p := range archive.List() {
		if strings.HasSuffix(p, ".uasset") {
			fmt.Println(strings.TrimSuffix(p, ".uasset"))
			count++
		}
	}
	log.Info().Msgf("%d assets", count)
}

func searchCommand() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	pakPath := fs.String("pak", "", "archive file (required)")
	key := fs.String("key", "", "AES key as hex")
	pattern := fs.String("pattern", "", "substring to match (required)")
	fs.Parse(os.Args[2:])

	archive := openArchive(requireFlag(fs, "pak", *pakPath), *key)
	defer archive.Close()

	matches := archive.Search(requireFlag(fs, "pattern", *pattern))
	for _, p := range matches {
		if strings.HasSuffix(p, ".uasset") {
			fmt.Println(strings.TrimSuffix(p, ".uasset"))
		}
	}
	log.Info().Msgf("%d matching assets", len(matches))
}

func extractCommand() {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	pakPath := fs.String("pak", "", "archive file (required)")
	key := fs.String("key", "", "AES key as hex")
	entry := fs.String("entry", "", "entry path inside the archive (required)")
	out := fs.String("out", ".", "output directory")
	fs.Parse(os.Args[2:])

	archive := openArchive(requireFlag(fs, "pak", *pakPath), *key)
	defer archive.Close()

	entryPath := requireFlag(fs, "entry", *entry)
	data, err := archive.Extract(entryPath)
	if err != nil {
		log.Fatal().Msgf("extract: %v", err)
	}

	outPath := filepath.Join(*out, filepath.Base(entryPath))
	if err := os.MkdirAll(*out, 0755); err != nil {
		log.Fatal().Msgf("create output dir: %v", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		log.Fatal().Msgf("write %s: %v", outPath, err)
	}
	log.Info().Msgf("extracted %s (%d bytes)", outPath, len(data))
}

func decodeCommand() {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	pakPath := fs.String("pak", "", "archive file (required)")
	key := fs.String("key", "", "AES key as hex")
	schemaPath := fs.String("schema", "", "property schema file (required)")
	asset := fs.String("asset", "", "asset path, with or without .uasset (required)")
	fs.Parse(os.Args[2:])

	archive := openArchive(requireFlag(fs, "pak", *pakPath), *key)
	defer archive.Close()
	schema := loadSchema(requireFlag(fs, "schema", *schemaPath))

	results, err := batch.Run(context.Background(), archive, schema,
		[]string{requireFlag(fs, "asset", *asset)}, batch.Options{Workers: 1})
	if err != nil {
		log.Fatal().Msgf("decode: %v", err)
	}
	if results[0].Err != nil {
		log.Fatal().Msgf("decode: %v", results[0].Err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results[0].Asset); err != nil {
		log.Fatal().Msgf("encode: %v", err)
	}
}

type batchConfig struct {
	Assets []string `json:"assets"`
}

func batchCommand() {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	pakPath := fs.String("pak", "", "archive file (required)")
	key := fs.String("key", "", "AES key as hex")
	schemaPath := fs.String("schema", "", "property schema file (required)")
	configPath := fs.String("config", "", "JSON config with an assets array (required)")
	out := fs.String("out", "out", "output directory")
	workers := fs.Int("workers", 4, "concurrent extractions")
	fs.Parse(os.Args[2:])

	raw, err := os.ReadFile(requireFlag(fs, "config", *configPath))
	if err != nil {
		log.Fatal().Msgf("read config: %v", err)
	}
	var cfg batchConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		log.Fatal().Msgf("parse config: %v", err)
	}

	archive := openArchive(requireFlag(fs, "pak", *pakPath), *key)
	defer archive.Close()
	schema := loadSchema(requireFlag(fs, "schema", *schemaPath))

	if err := os.MkdirAll(*out, 0755); err != nil {
		log.Fatal().Msgf("create output dir: %v", err)
	}

	results, err := batch.Run(context.Background(), archive, schema, cfg.Assets,
		batch.Options{Workers: *workers})
	if err != nil {
		log.Fatal().Msgf("batch: %v", err)
	}

	type manifestEntry struct {
		Name    string `json:"name"`
		PakPath string `json:"pak_path"`
		Output  string `json:"output,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	manifest := struct {
		Extracted []manifestEntry `json:"extracted"`
	}{}

	for _, res := range results {
		base := batch.TrimAssetSuffix(res.Path)
		name := filepath.Base(base)
		entry := manifestEntry{Name: name, PakPath: base}

		if res.Err != nil {
			entry.Error = res.Err.Error()
			manifest.Extracted = append(manifest.Extracted, entry)
			continue
		}

		outPath := filepath.Join(*out, name+".json")
		data, err := json.MarshalIndent(res.Asset, "", "  ")
		if err != nil {
			log.Fatal().Msgf("encode %s: %v", name, err)
		}
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			log.Fatal().Msgf("write %s: %v", outPath, err)
		}
		entry.Output = outPath
		manifest.Extracted = append(manifest.Extracted, entry)
	}

	manifestPath := filepath.Join(*out, "manifest.json")
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		log.Fatal().Msgf("encode manifest: %v", err)
	}
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		log.Fatal().Msgf("write manifest: %v", err)
	}
	log.Info().Msgf("manifest: %s", manifestPath)
}

func requireFlag(fs *flag.FlagSet, name, value string) string {
	if value == "" {
		fmt.Fprintf(os.Stderr, "missing required flag -%s\n", name)
		fs.Usage()
		os.Exit(2)
	}
	return value
}
