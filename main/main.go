package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	stdmime "mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/synqronlabs/courier"
	"github.com/synqronlabs/courier/dns"
	"github.com/synqronlabs/courier/message"
)

// listFlag collects a flag given several times, or once with commas.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}

func main() {
	// Log with filename and line number to stderr.
	log.Logger = log.With().Caller().Logger()

	var to, cc, bcc, attach listFlag
	configPath := flag.String("config", "", "path to a YAML configuration file; the environment is used when empty")
	from := flag.String("from", "", "sender address")
	flag.Var(&to, "to", "recipient address (repeatable)")
	flag.Var(&cc, "cc", "carbon copy address (repeatable)")
	flag.Var(&bcc, "bcc", "blind carbon copy address (repeatable)")
	subject := flag.String("subject", "", "message subject")
	body := flag.String("body", "", "plain text body; \"-\" reads it from stdin")
	html := flag.String("html", "", "path to an HTML body")
	flag.Var(&attach, "attach", "path to a file to attach (repeatable)")
	resolver := flag.String("dns", "", `resolve the server host name: "system" for the stdlib resolver, or a nameserver address`)
	level := flag.String("level", "info", `log level: "info", "debug", or "warn"`)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error().Err(err).Str("config-path", *configPath).Msg("problem loading the configuration")
		os.Exit(1)
	}

	email, err := buildEmail(*from, to, cc, bcc, *subject, *body, *html, attach)
	if err != nil {
		log.Error().Err(err).Msg("problem building the message")
		os.Exit(1)
	}

	opts := []courier.Option{courier.WithLogger(log.Logger)}
	switch *resolver {
	case "":
	case "system":
		opts = append(opts, courier.WithResolver(dns.NewStdResolver()))
	default:
		opts = append(opts, courier.WithResolver(dns.NewResolver(dns.ResolverConfig{
			Nameservers: []string{*resolver},
		})))
	}

	client, err := courier.NewClient(cfg, opts...)
	if err != nil {
		log.Error().Err(err).Msg("problem validating the configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info().Str("server", cfg.Server.Address()).Msg("sending")

	result, err := client.Send(ctx, email)
	if errors.Is(err, courier.ErrPartialRecipientsRejected) {
		log.Warn().Err(err).Msg("message delivered to some recipients only")
	} else if err != nil {
		log.Error().Err(err).Msg("send failed")
		os.Exit(1)
	}

	fmt.Println(result.MessageID)
}

func loadConfig(path string) (courier.Configuration, error) {
	if path == "" {
		return courier.FromEnv(os.LookupEnv), nil
	}
	return courier.LoadFile(path, os.LookupEnv)
}

func buildEmail(from string, to, cc, bcc []string, subject, body, htmlPath string, attach []string) (*message.Email, error) {
	b := message.NewBuilder().
		From(from).
		To(to...).
		Cc(cc...).
		Bcc(bcc...).
		Subject(subject)

	if body == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading body from stdin: %w", err)
		}
		body = string(data)
	}
	if body != "" {
		b.TextBody(body)
	}

	if htmlPath != "" {
		data, err := os.ReadFile(htmlPath)
		if err != nil {
			return nil, fmt.Errorf("reading HTML body: %w", err)
		}
		b.HTMLBody(string(data))
	}

	for _, path := range attach {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading attachment: %w", err)
		}
		b.Attach(filepath.Base(path), data, stdmime.TypeByExtension(filepath.Ext(path)))
	}

	return b.Build()
}
