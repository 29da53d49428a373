package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/render-gateway/internal/client"
)

// Flag descriptions.
const (
	flagGatewayDesc  = "Base URL of the render gateway"
	flagActionDesc   = "Rendering action to run (content, screenshot, pdf, ...)"
	flagURLDesc      = "Target page URL"
	flagTextDesc     = "Text to convert to speech"
	flagSelectorDesc = "CSS selector used to extract speech text from --url"
	flagVoiceDesc    = "Voice for speech synthesis"
	flagFormatDesc   = "Audio format for speech synthesis"
	flagOutputDesc   = "Output file path"
	flagHealthDesc   = "Check gateway status and exit"
	flagTimeoutDesc  = "Request timeout"
)

// Flag names.
const (
	flagGateway  = "gateway"
	flagAction   = "action"
	flagURL      = "url"
	flagText     = "text"
	flagSelector = "selector"
	flagVoice    = "voice"
	flagFormat   = "format"
	flagOutput   = "output"
	flagHealth   = "health"
	flagTimeout  = "timeout"
)

// Error and log messages.
const (
	errNothingToDo          = "One of --health, --action, --text or --url must be provided"
	errCannotCombine        = "Cannot combine --action with --text"
	errActionNeedsTarget    = "--action requires --url (or --selector for scrape)"
	errFailedToInitLogger   = "Failed to initialize logger: %v"
	errGatewayNotHealthy    = "Gateway is not healthy: %v\n"
	msgGatewayHealthy       = "Gateway is healthy"
	logRendered             = "Rendered %s (%s, %d bytes) to %s"
	logSpoken               = "Speech %s written to %s"
	msgWritten              = "Written: %s\n"
	msgExtracted            = "Extracted text: %s\n"
	logFileName             = "go-client.log"
	defaultGatewayURL       = "http://localhost:8787"
	defaultRenderOutputFile = "render.out"
	defaultOutputBase       = "output."
	defaultFormat           = "mp3"
	defaultTimeout          = 90 * time.Second
)

var (
	// ErrNothingToDo is returned when no operation was requested.
	ErrNothingToDo = errors.New(errNothingToDo)
	// ErrCannotCombine is returned when a render and a talk were both requested.
	ErrCannotCombine = errors.New(errCannotCombine)
	// ErrActionNeedsTarget is returned for a render without a target.
	ErrActionNeedsTarget = errors.New(errActionNeedsTarget)
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	gateway  string
	action   string
	url      string
	text     string
	selector string
	voice    string
	format   string
	output   string
	health   bool
	timeout  time.Duration
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	if err := validateArguments(flags); err != nil {
		flag.Usage()

		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}
	defer clientLog.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	return execute(ctx, client.NewAPI(flags.gateway, flags.timeout), clientLog, flags, os.Stdout)
}

// parseFlags defines and parses command-line flags on fs.
func parseFlags(fs *flag.FlagSet, args []string) appFlags {
	var flags appFlags
	fs.StringVar(&flags.gateway, flagGateway, defaultGatewayURL, flagGatewayDesc)
	fs.StringVar(&flags.action, flagAction, "", flagActionDesc)
	fs.StringVar(&flags.url, flagURL, "", flagURLDesc)
	fs.StringVar(&flags.text, flagText, "", flagTextDesc)
	fs.StringVar(&flags.selector, flagSelector, "", flagSelectorDesc)
	fs.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	fs.StringVar(&flags.format, flagFormat, "", flagFormatDesc)
	fs.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	fs.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	fs.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	_ = fs.Parse(args)

	return flags
}

// validateArguments checks for missing and conflicting flags.
func validateArguments(flags appFlags) error {
	if flags.health {
		return nil
	}

	if flags.action != "" && flags.text != "" {
		return ErrCannotCombine
	}

	if flags.action != "" {
		if flags.url == "" && flags.selector == "" {
			return ErrActionNeedsTarget
		}

		return nil
	}

	if flags.text == "" && flags.url == "" {
		return ErrNothingToDo
	}

	return nil
}

// execute dispatches to the requested operation.
func execute(ctx context.Context, api *client.API, clientLog *logger.Logger, flags appFlags, stdout io.Writer) error {
	switch {
	case flags.health:
		return handleHealthCheck(ctx, api, clientLog, stdout)
	case flags.action != "":
		return handleRender(ctx, api, clientLog, flags, stdout)
	default:
		return handleTalk(ctx, api, clientLog, flags, stdout)
	}
}

func handleHealthCheck(ctx context.Context, api *client.API, clientLog *logger.Logger, stdout io.Writer) error {
	if _, err := api.Status(ctx); err != nil {
		clientLog.Error("Health check failed: %v", err)
		fmt.Fprintf(stdout, errGatewayNotHealthy, err)

		return err
	}

	fmt.Fprintln(stdout, msgGatewayHealthy)

	return nil
}

func handleRender(ctx context.Context, api *client.API, clientLog *logger.Logger, flags appFlags, stdout io.Writer) error {
	params := map[string][]string{}
	if flags.selector != "" {
		params["elements"] = []string{fmt.Sprintf(`[{"selector":%q}]`, flags.selector)}
	}

	rendered, err := api.Render(ctx, flags.action, flags.url, params)
	if err != nil {
		clientLog.Error("Render %s failed: %v", flags.action, err)

		return fmt.Errorf("render %s failed: %w", flags.action, err)
	}

	outputPath := flags.output
	if outputPath == "" {
		outputPath = defaultRenderOutputFile
	}

	if err := os.WriteFile(outputPath, rendered.Body, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	clientLog.Info(logRendered, flags.action, rendered.ContentType, len(rendered.Body), outputPath)
	fmt.Fprintf(stdout, msgWritten, outputPath)

	return nil
}

func handleTalk(ctx context.Context, api *client.API, clientLog *logger.Logger, flags appFlags, stdout io.Writer) error {
	reply, err := api.Talk(ctx, client.TalkRequest{
		Text:     flags.text,
		URL:      flags.url,
		Selector: flags.selector,
		Voice:    flags.voice,
		Format:   flags.format,
	})
	if err != nil {
		clientLog.Error("Talk failed: %v", err)

		return fmt.Errorf("talk failed: %w", err)
	}

	if reply.ExtractedText != nil {
		fmt.Fprintf(stdout, msgExtracted, *reply.ExtractedText)
	}

	audio := reply.Audio
	if audio == nil {
		audio, _, err = api.Audio(ctx, reply.Key)
		if err != nil {
			clientLog.Error("Audio download for %s failed: %v", reply.Key, err)

			return fmt.Errorf("audio download failed: %w", err)
		}
	}

	outputPath := flags.output
	if outputPath == "" {
		format := strings.ToLower(flags.format)
		if format == "" {
			format = defaultFormat
		}

		outputPath = defaultOutputBase + format
	}

	if err := os.WriteFile(outputPath, audio, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	clientLog.Info(logSpoken, reply.Key, outputPath)
	fmt.Fprintf(stdout, msgWritten, outputPath)

	return nil
}
