package httpapi

import (
	"fmt"
	"net/http"
)

func (s *Server) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	st := s.eng.State()
	es := s.eng.Stats()
	hs := s.hub.Stats()
	world := st.World.ID

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP nightroad_actions_total Dispatched actions by outcome.\n")
	fmt.Fprintf(rw, "# TYPE nightroad_actions_total counter\n")
	fmt.Fprintf(rw, "nightroad_actions_total{outcome=%q} %d\n", "ok", es.OK)
	fmt.Fprintf(rw, "nightroad_actions_total{outcome=%q} %d\n", "rejected", es.Rejected)
	fmt.Fprintf(rw, "nightroad_actions_total{outcome=%q} %d\n", "hard_error", es.HardErrors)
	fmt.Fprintf(rw, "nightroad_actions_total{outcome=%q} %d\n", "internal_error", es.Internal)

	fmt.Fprintf(rw, "# HELP nightroad_energy_regen_total Regeneration patches applied.\n")
	fmt.Fprintf(rw, "# TYPE nightroad_energy_regen_total counter\n")
	fmt.Fprintf(rw, "nightroad_energy_regen_total %d\n", es.Regens)

	fmt.Fprintf(rw, "# HELP nightroad_publish_errors_total Messages the hub failed to encode.\n")
	fmt.Fprintf(rw, "# TYPE nightroad_publish_errors_total counter\n")
	fmt.Fprintf(rw, "nightroad_publish_errors_total %d\n", es.PublishErrors)

	fmt.Fprintf(rw, "# HELP nightroad_engine_queue_depth Pending actions in the engine inbox.\n")
	fmt.Fprintf(rw, "# TYPE nightroad_engine_queue_depth gauge\n")
	fmt.Fprintf(rw, "nightroad_engine_queue_depth %d\n", es.InboxDepth)

	fmt.Fprintf(rw, "# HELP nightroad_stream_subscribers Connected stream subscribers.\n")
	fmt.Fprintf(rw, "# TYPE nightroad_stream_subscribers gauge\n")
	fmt.Fprintf(rw, "nightroad_stream_subscribers %d\n", hs.Subscribers)

	fmt.Fprintf(rw, "# HELP nightroad_stream_messages_total Stream messages by fate.\n")
	fmt.Fprintf(rw, "# TYPE nightroad_stream_messages_total counter\n")
	fmt.Fprintf(rw, "nightroad_stream_messages_total{fate=%q} %d\n", "published", hs.Published)
	fmt.Fprintf(rw, "nightroad_stream_messages_total{fate=%q} %d\n", "delivered", hs.Delivered)

	fmt.Fprintf(rw, "# HELP nightroad_stream_evicted_total Subscribers dropped for falling behind.\n")
	fmt.Fprintf(rw, "# TYPE nightroad_stream_evicted_total counter\n")
	fmt.Fprintf(rw, "nightroad_stream_evicted_total %d\n", hs.Evicted)

	fmt.Fprintf(rw, "# HELP nightroad_player Player gauges.\n")
	fmt.Fprintf(rw, "# TYPE nightroad_player gauge\n")
	fmt.Fprintf(rw, "nightroad_player{world=%q,metric=%q} %d\n", world, "level", st.Player.Level)
	fmt.Fprintf(rw, "nightroad_player{world=%q,metric=%q} %d\n", world, "currency", st.Player.Currency)
	fmt.Fprintf(rw, "nightroad_player{world=%q,metric=%q} %d\n", world, "energy", st.Player.Energy)
	fmt.Fprintf(rw, "nightroad_player{world=%q,metric=%q} %d\n", world, "current_stage", st.World.CurrentStage)

	for _, fn := range s.metrics {
		fn(rw)
	}
}
