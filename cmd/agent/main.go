package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/fidelity"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/gateway"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/governance"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/observability"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/policy"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/translate"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport/httpapi"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport/rpc"
)

// #region main

type options struct {
	id         string
	mode       string
	addr       string
	apiKey     string
	configPath string
	protocol   string
	tier       string
	fleet      int
	messages   int
	heuristic  bool
}

func main() {
	var o options
	pflag.StringVar(&o.id, "id", envOr("GOVERNANCE_AGENT_ID", "agent-1"), "agent identifier")
	pflag.StringVar(&o.mode, "transport", envOr("GOVERNANCE_TRANSPORT", "local"), "gateway transport: local, http or grpc")
	pflag.StringVar(&o.addr, "addr", envOr("GOVERNANCE_ADDR", ""), "gateway address (http://host:8000 or host:50061)")
	pflag.StringVar(&o.apiKey, "api-key", os.Getenv("GOVERNANCE_API_KEY"), "bearer key for the HTTP gateway")
	pflag.StringVar(&o.configPath, "config", envOr("GOVERNANCE_CONFIG", ""), "policy TOML file (defaults when empty)")
	pflag.StringVar(&o.protocol, "protocol", "coord:1.0", "protocol to register, name:version")
	pflag.StringVar(&o.tier, "risk-tier", string(protocol.RiskMedium), "risk tier of the registered protocol")
	pflag.IntVar(&o.fleet, "fleet", 0, "run N simulated agents instead of the interactive prompt")
	pflag.IntVar(&o.messages, "messages", 30, "messages per simulated agent")
	pflag.BoolVar(&o.heuristic, "heuristic", false, "score reports with the heuristic evaluator before submitting")
	pflag.Parse()

	logger := observability.InitLogger("agent")
	if err := run(logger, o); err != nil {
		logger.Fatal().Err(err).Msg("agent stopped")
	}
}

func run(logger zerolog.Logger, o options) error {
	cfg := policy.DefaultConfig()
	if o.configPath != "" {
		loaded, err := policy.Load(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	key, err := protocol.ParseKey(o.protocol)
	if err != nil {
		return err
	}
	desc := protocol.Descriptor{
		Name:              key.Name,
		Version:           key.Version,
		Purpose:           "agent coordination",
		Scope:             "task dispatch between cooperating agents",
		RiskTier:          protocol.RiskTier(o.tier),
		TranslationMethod: "lookup table",
	}

	client, closeFn, err := dial(logger, o, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	codec := translate.NewCodec()
	newAgent := func(id string) *governance.Agent {
		opts := []governance.Option{
			governance.WithConfig(cfg),
			governance.WithReportBuilder(translate.ReportBuilder(codec)),
			governance.WithLogger(logger),
		}
		if o.heuristic {
			opts = append(opts, governance.WithEvaluator(fidelity.DefaultHeuristic()))
		}
		return governance.New(id, client, opts...)
	}

	ctx := context.Background()
	if o.fleet > 0 {
		return runFleet(ctx, logger, newAgent, desc, codec, o)
	}
	return runInteractive(ctx, newAgent(o.id), desc, codec)
}

// dial builds the transport. Remote transports are wrapped with retries.
func dial(logger zerolog.Logger, o options, cfg policy.Config) (transport.Client, func(), error) {
	nop := func() {}
	switch o.mode {
	case "local":
		engine := gateway.NewEngine(cfg, gateway.WithLogger(logger))
		return transport.NewLocal(engine), nop, nil
	case "http":
		addr := o.addr
		if addr == "" {
			addr = "http://localhost:8000"
		}
		c := httpapi.NewClient(addr, httpapi.WithBearerKey(o.apiKey))
		return transport.NewRetrying(c, transport.DefaultRetryPolicy(), logger), nop, nil
	case "grpc":
		addr := o.addr
		if addr == "" {
			addr = "localhost:50061"
		}
		c, err := rpc.Dial(addr)
		if err != nil {
			return nil, nop, fmt.Errorf("connect to gateway at %s: %w", addr, err)
		}
		return transport.NewRetrying(c, transport.DefaultRetryPolicy(), logger), func() { c.Close() }, nil
	default:
		return nil, nop, fmt.Errorf("unknown transport %q", o.mode)
	}
}

// #endregion main

// #region interactive

// runInteractive reads lines from stdin. Lines starting with "assign",
// "ack" or "sync" are encoded in the private protocol; anything else is
// sent as written.
func runInteractive(ctx context.Context, a *governance.Agent, desc protocol.Descriptor, codec translate.Codec) error {
	if err := a.Register(ctx, desc); err != nil {
		return fmt.Errorf("register %s: %w", desc.Key(), err)
	}

	fmt.Printf("Agent %s ready. Protocol %s registered.\n", a.ID(), desc.Key())
	fmt.Println("Commands: assign <task> <pri> | ack <ref> | sync <state> | flush | status | quit")
	fmt.Println("Anything else is sent as plain text.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		fields := strings.Fields(line)
		var content string
		switch fields[0] {
		case "flush":
			if err := a.Flush(ctx); err != nil {
				fmt.Printf("flush failed: %v\n", err)
			} else {
				fmt.Println("flushed")
			}
			continue
		case "status":
			if snap, ok := a.Snapshot(desc.Key()); ok {
				fmt.Printf("%s: %d buffered, needs_report=%v\n", snap.Protocol, snap.Count, snap.NeedsReport)
			}
			continue
		case "assign":
			if len(fields) < 3 {
				fmt.Println("usage: assign <task> <pri>")
				continue
			}
			pri, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Println("priority must be an integer")
				continue
			}
			content = codec.Encode(translate.TaskAssignment(fields[1], pri))
		case "ack":
			if len(fields) < 2 {
				fmt.Println("usage: ack <ref>")
				continue
			}
			content = codec.Encode(translate.Acknowledgment(fields[1]))
		case "sync":
			if len(fields) < 2 {
				fmt.Println("usage: sync <state>")
				continue
			}
			content = codec.Encode(translate.StateUpdate(strings.Join(fields[1:], " ")))
		default:
			content = line
		}

		res, err := a.Send(ctx, "peer", content)
		if err != nil {
			fmt.Printf("send failed: %v\n", err)
			continue
		}
		if !res.OK {
			fmt.Printf("rejected (%s): %s\n", res.Reason, res.Error)
			continue
		}
		fmt.Printf("sent %q\n", content)
	}

	if err := a.Flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return scanner.Err()
}

// #endregion interactive

// #region fleet

// runFleet drives o.fleet agents concurrently, each sending o.messages
// protocol messages to the next agent in the ring, then flushing.
func runFleet(ctx context.Context, logger zerolog.Logger, newAgent func(string) *governance.Agent, desc protocol.Descriptor, codec translate.Codec, o options) error {
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i := 0; i < o.fleet; i++ {
		id := o.id + "-" + strconv.Itoa(i)
		peer := o.id + "-" + strconv.Itoa((i+1)%o.fleet)
		g.Go(func() error {
			a := newAgent(id)
			if err := a.Register(ctx, desc); err != nil {
				return fmt.Errorf("%s: register: %w", id, err)
			}
			rejected := 0
			for n := 0; n < o.messages; n++ {
				var fields map[string]string
				switch n % 3 {
				case 0:
					fields = translate.TaskAssignment(fmt.Sprintf("task-%d", n), n%5)
				case 1:
					fields = translate.Acknowledgment(fmt.Sprintf("task-%d", n-1))
				default:
					fields = translate.StateUpdate("working")
				}
				res, err := a.Send(ctx, peer, codec.Encode(fields))
				if err != nil {
					var ev *governance.EvaluationError
					if errors.As(err, &ev) {
						rejected++
						continue
					}
					return fmt.Errorf("%s: send %d: %w", id, n, err)
				}
				if !res.OK {
					rejected++
				}
			}
			if err := a.Flush(ctx); err != nil {
				return fmt.Errorf("%s: flush: %w", id, err)
			}
			logger.Info().Str("agent_id", id).Int("sent", o.messages).Int("rejected", rejected).Msg("agent finished")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Int("agents", o.fleet).Dur("elapsed", time.Since(start)).Msg("fleet finished")
	return nil
}

// #endregion fleet

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
