// Command gline-mcp serves GLiNER entity and relation extraction over the Model
// Context Protocol on stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/amikos-tech/pure-gline/gline"
	"github.com/amikos-tech/pure-gline/internal/closeutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

const serverVersion = "0.1.0"

type options struct {
	library   string
	modelPath string
	tokenizer string
	hfModel   string
	mode      string

	relationModelPath string
	relationTokenizer string
	relationHFModel   string
	relationSchemas   []string

	check bool
}

func main() {
	log.SetOutput(os.Stderr)
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "gline-mcp",
		Short: "MCP server for GLiNER entity and relation extraction",
		Long: `gline-mcp loads the gline-rs binding at runtime and exposes
extract_entities (and, with a relation model, extract_relations) as MCP tools on stdio.

The binding is located with --library, GLINE_LIB_PATH, or downloaded into the cache.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.library, "library", "", "path to the gline binding shared library (default: GLINE_LIB_PATH or bootstrap cache)")
	flags.StringVar(&opts.modelPath, "model-path", "", "local ONNX entity model")
	flags.StringVar(&opts.tokenizer, "tokenizer", "", "tokenizer.json for --model-path")
	flags.StringVar(&opts.hfModel, "hf-model", "onnx-community/gliner_small-v2.1", "Hugging Face entity model, used when --model-path is empty")
	flags.StringVar(&opts.mode, "mode", "span", "entity model mode: span or token")
	flags.StringVar(&opts.relationModelPath, "relation-model-path", "", "local ONNX relation model")
	flags.StringVar(&opts.relationTokenizer, "relation-tokenizer", "", "tokenizer.json for --relation-model-path")
	flags.StringVar(&opts.relationHFModel, "relation-hf-model", "", "Hugging Face relation model")
	flags.StringArrayVar(&opts.relationSchemas, "relation-schema", nil, "relation schema name:HEAD1|HEAD2:TAIL1|TAIL2 (repeatable)")
	flags.BoolVar(&opts.check, "check", false, "open the binding, report its entry points and exit")
	return cmd
}

func (o *options) validate() error {
	switch o.mode {
	case "span", "token":
	default:
		return fmt.Errorf("invalid --mode %q: expected span or token", o.mode)
	}
	if o.modelPath != "" && o.tokenizer == "" {
		return fmt.Errorf("--tokenizer is required with --model-path")
	}
	if o.relationModelPath != "" && o.relationTokenizer == "" {
		return fmt.Errorf("--relation-tokenizer is required with --relation-model-path")
	}
	if o.relationEnabled() && len(o.relationSchemas) == 0 {
		return fmt.Errorf("at least one --relation-schema is required with a relation model")
	}
	if _, err := parseRelationSchemas(o.relationSchemas); err != nil {
		return err
	}
	return nil
}

func (o *options) relationEnabled() bool {
	return o.relationModelPath != "" || o.relationHFModel != ""
}

func run(ctx context.Context, opts *options, out io.Writer) (err error) {
	var bootstrap []gline.BootstrapOption
	if opts.library != "" {
		bootstrap = append(bootstrap, gline.WithBootstrapLibraryPath(opts.library))
	}
	lib, err := gline.OpenWithBootstrap(bootstrap...)
	if err != nil {
		return err
	}

	if opts.check {
		defer func() {
			err = errors.Join(err, closeutil.CloseAll(lib))
		}()
		return reportCheck(out, lib)
	}

	entities, err := loadEntityModel(lib, opts)
	if err != nil {
		return closeAfter(err, lib)
	}

	var relations relationPredictor
	var relationCloser io.Closer
	if opts.relationEnabled() {
		model, err := loadRelationModel(lib, opts)
		if err != nil {
			return closeAfter(err, entities, lib)
		}
		relations, relationCloser = model, model
	}
	defer func() {
		if closeErr := closeutil.CloseAll(entities, relationCloser, lib); closeErr != nil {
			log.Printf("WARNING: shutdown: %v", closeErr)
		}
	}()

	server := newServer(entities, relations)
	log.Printf("serving gline tools on stdio (library %s)", lib.Path())
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func reportCheck(out io.Writer, lib *gline.Library) error {
	symbols := gline.RequiredSymbols()
	if _, err := fmt.Fprintf(out, "%s: all %d entry points resolved\n", lib.Path(), len(symbols)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "  %s\n", strings.Join(symbols, "\n  "))
	return err
}

type entityModel interface {
	entityPredictor
	io.Closer
}

func loadEntityModel(lib *gline.Library, opts *options) (entityModel, error) {
	if opts.modelPath != "" {
		log.Printf("loading %s model %s", opts.mode, opts.modelPath)
		if opts.mode == "token" {
			return lib.NewTokenModel(opts.modelPath, opts.tokenizer)
		}
		return lib.NewSpanModel(opts.modelPath, opts.tokenizer)
	}

	log.Printf("loading %s model %s from Hugging Face", opts.mode, opts.hfModel)
	if opts.mode == "token" {
		return lib.NewTokenModelFromHub(opts.hfModel)
	}
	return lib.NewSpanModelFromHub(opts.hfModel)
}

func loadRelationModel(lib *gline.Library, opts *options) (*gline.RelationModel, error) {
	schemas, err := parseRelationSchemas(opts.relationSchemas)
	if err != nil {
		return nil, err
	}

	var model *gline.RelationModel
	if opts.relationModelPath != "" {
		log.Printf("loading relation model %s", opts.relationModelPath)
		model, err = lib.NewRelationModel(opts.relationModelPath, opts.relationTokenizer)
	} else {
		log.Printf("loading relation model %s from Hugging Face", opts.relationHFModel)
		model, err = lib.NewRelationModelFromHub(opts.relationHFModel)
	}
	if err != nil {
		return nil, err
	}

	if err := model.AddSchemas(schemas...); err != nil {
		return nil, closeAfter(err, model)
	}
	return model, nil
}

func closeAfter(err error, closers ...io.Closer) error {
	if closeErr := closeutil.CloseAll(closers...); closeErr != nil {
		log.Printf("WARNING: cleanup after error: %v", closeErr)
	}
	return err
}
