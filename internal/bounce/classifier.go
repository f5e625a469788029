// Package bounce classifies delivery-failure reports. Mail transfer agents
// disagree wildly about what a bounce looks like, so classification runs an
// ordered list of format-specific parsers over the report and takes the
// first one that recovers addresses. The order is a stable contract:
// structured DSN parsing runs before the vendor heuristics, and the loose
// catch-all matchers run last so they cannot shadow a precise parser.
package bounce

import (
	"log/slog"
	"strings"

	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/metrics"
)

// Result is one classification outcome. Addresses holds the recovered
// recipients; Stop marks the report as a recognized non-actionable warning
// (for example a "your mail is delayed" notice), which must end
// classification so a looser parser further down cannot misread it as a
// hard failure. An empty Result means the parser did not recognize the
// format.
type Result struct {
	Addresses []string
	Stop      bool
}

// Empty reports whether the result carries no information.
func (r Result) Empty() bool { return !r.Stop && len(r.Addresses) == 0 }

// ParseFunc inspects one report and returns what it recognized. Parsers
// operate on hostile input and may assume nothing about the message shape;
// the classifier converts a panicking parser into an empty result.
type ParseFunc func(msg *message.Message) Result

// Module is one named parser in the priority list.
type Module struct {
	Name  string
	Parse ParseFunc
}

// Classifier runs an immutable, ordered module list built once at startup.
type Classifier struct {
	modules []Module
	log     *slog.Logger
}

// New builds a classifier over the given modules, consulted strictly in
// slice order.
func New(modules []Module) *Classifier {
	return &Classifier{
		modules: modules,
		log:     slog.Default().With("component", "bounce"),
	}
}

// Classify runs the module list over a report. The first module returning
// addresses wins. A Stop result ends classification with no addresses. If
// every module comes back empty the format is unrecognized, which means "no
// information", never "nothing bounced".
func (c *Classifier) Classify(msg *message.Message) Result {
	for _, m := range c.modules {
		res := c.run(m, msg)
		if res.Stop {
			c.log.Debug("bounce recognized as warning", "module", m.Name)
			metrics.BounceOutcomes.WithLabelValues("warning").Inc()
			return Result{Stop: true}
		}
		if len(res.Addresses) > 0 {
			addrs := dedupe(res.Addresses)
			c.log.Info("bounce classified", "module", m.Name, "addresses", len(addrs))
			metrics.BounceOutcomes.WithLabelValues(m.Name).Inc()
			metrics.BounceAddresses.Add(float64(len(addrs)))
			return Result{Addresses: addrs}
		}
	}
	c.log.Info("bounce format not recognized")
	metrics.BounceOutcomes.WithLabelValues("unrecognized").Inc()
	return Result{}
}

// run isolates one parser; a panic on malformed input counts as no match.
func (c *Classifier) run(m Module, msg *message.Message) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("bounce module panicked", "module", m.Name, "panic", r)
			res = Result{}
		}
	}()
	return m.Parse(msg)
}

// dedupe case-folds and deduplicates, preserving first-seen order. DSN
// reports routinely list the same recipient in several per-recipient
// blocks.
func dedupe(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		folded := strings.ToLower(strings.TrimSpace(a))
		if folded == "" || seen[folded] {
			continue
		}
		seen[folded] = true
		out = append(out, folded)
	}
	return out
}

// DefaultModules is the full parser list in priority order. The order is
// load-bearing: moving a loose matcher ahead of a precise one changes what
// real-world reports classify as. Do not reorder without regression
// coverage for both neighbors.
func DefaultModules() []Module {
	return []Module{
		{Name: "dsn", Parse: parseDSN},
		{Name: "qmail", Parse: parseQmail},
		{Name: "postfix", Parse: parsePostfix},
		{Name: "yahoo", Parse: parseYahoo},
		{Name: "caiwireless", Parse: parseCaiwireless},
		{Name: "exchange", Parse: parseExchange},
		{Name: "exim", Parse: parseExim},
		{Name: "netscape", Parse: parseNetscape},
		{Name: "compuserve", Parse: parseCompuserve},
		{Name: "microsoft", Parse: parseMicrosoft},
		{Name: "groupwise", Parse: parseGroupWise},
		{Name: "smail", Parse: parseSmail},
		{Name: "simplematch", Parse: parseSimpleMatch},
		{Name: "simplewarning", Parse: parseSimpleWarning},
		{Name: "sina", Parse: parseSina},
		{Name: "aol", Parse: parseAOL},
		{Name: "llnl", Parse: parseLLNL},
	}
}
