package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nvr-ai/scan4stroke/config"
	"github.com/nvr-ai/scan4stroke/inference"
	"github.com/nvr-ai/scan4stroke/util"
)

// unavailableReport is printed when the assets cannot be loaded.
type unavailableReport struct {
	Error  string               `json:"error"`
	Assets []inference.AssetRef `json:"required_assets"`
}

func main() {
	var envFile, imagePath string
	flag.StringVar(&envFile, "env", "", "path to load env from")
	flag.StringVar(&imagePath, "image", "", "path to a CT scan (.jpg, .jpeg, .png)")
	flag.Parse()

	os.Exit(run(envFile, imagePath))
}

func run(envFile, imagePath string) int {
	if imagePath == "" {
		fmt.Fprintln(os.Stderr, "usage: classify -image scan.png [-env .env]")
		return 2
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       cfg.Level(),
		ReplaceAttr: plainErrors,
	}))

	scan, err := util.LoadImageFile(imagePath)
	if err != nil {
		logger.Error("cannot read scan", "path", imagePath, "error", err)
		return 1
	}

	ctx := context.Background()
	svc := inference.Open(ctx, cfg.Inference(logger), cfg.ModelLoader())
	defer svc.Close()

	if !svc.Ready() {
		report := unavailableReport{Error: svc.Err().Error(), Assets: svc.Assets()}
		printJSON(report)
		return 1
	}

	result, err := svc.Infer(ctx, scan.Data)
	if err != nil {
		logger.Error("classification failed", "path", imagePath, "error", err)
		return 1
	}

	printJSON(result)
	return 0
}

// plainErrors logs error values by their message. The text handler formats
// them with %+v, which prints the pkg/errors stack trace.
func plainErrors(_ []string, a slog.Attr) slog.Attr {
	if err, ok := a.Value.Any().(error); ok && a.Value.Kind() == slog.KindAny {
		return slog.String(a.Key, err.Error())
	}
	return a
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding output: %v\n", err)
	}
}
