package pipeline

import (
	"context"
	"log/slog"

	"github.com/busybox42/listflow/internal/delivery"
	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/metrics"
	"github.com/busybox42/listflow/internal/queue"
)

// deliver is the outgoing queue's pipeline: it hands the message to the
// transport, per recipient when VERP is on, and reports partial failure so
// the runner can retry only the recipients that temp-failed.
type deliver struct {
	transport delivery.Deliverer
	log       *slog.Logger
}

func (s *deliver) Name() string { return "deliver" }

func (s *deliver) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	recips := meta.GetStringList(queue.MetaRecips)
	if len(recips) == 0 {
		s.log.Info("no recipients for delivery", "list", lst.Name)
		return Continue()
	}

	raw := msg.Bytes()
	var results []delivery.RecipientResult

	if meta.GetBool(queue.MetaVerp) {
		for _, rcpt := range recips {
			sender := delivery.EncodeVERP(lst.BounceAddress(), rcpt)
			res, err := s.transport.Deliver(ctx, raw, sender, []string{rcpt})
			if err != nil {
				s.log.Warn("delivery attempt failed", "list", lst.Name, "recipient", rcpt, "error", err)
				results = append(results, delivery.RecipientResult{
					Recipient: rcpt,
					Outcome:   delivery.TempFail,
					Message:   err.Error(),
				})
				continue
			}
			results = append(results, res...)
		}
	} else {
		res, err := s.transport.Deliver(ctx, raw, lst.BounceAddress(), recips)
		if err != nil {
			s.log.Warn("delivery attempt failed", "list", lst.Name, "recipients", len(recips), "error", err)
			return Partial(recips, nil)
		}
		results = res
	}

	delivered, temp, perm := delivery.Split(results)
	metrics.DeliveryOutcomes.WithLabelValues("delivered").Add(float64(len(delivered)))
	metrics.DeliveryOutcomes.WithLabelValues("temp-fail").Add(float64(len(temp)))
	metrics.DeliveryOutcomes.WithLabelValues("perm-fail").Add(float64(len(perm)))

	if len(temp) > 0 || len(perm) > 0 {
		s.log.Info("delivery partially failed",
			"list", lst.Name,
			"delivered", len(delivered),
			"temp_failed", len(temp),
			"perm_failed", len(perm))
		return Partial(temp, perm)
	}
	s.log.Info("delivered", "list", lst.Name, "recipients", len(delivered))
	return Continue()
}
