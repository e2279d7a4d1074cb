package media

import (
	"context"
	"sync"
	"time"

	"embercall/internal/core/domain"
	"embercall/internal/infrastructure/monitoring"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// statsCollector aggregates inbound quality metrics from RTCP receiver
// reports across all consumed tracks of one session.
type statsCollector struct {
	mu      sync.Mutex
	stats   domain.MediaStats
	metrics *monitoring.CallMetrics
	logger  *zap.SugaredLogger
}

func newStatsCollector(metrics *monitoring.CallMetrics, logger *zap.SugaredLogger) *statsCollector {
	return &statsCollector{metrics: metrics, logger: logger}
}

func (c *statsCollector) snapshot() domain.MediaStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// run reads RTCP packets from one receiver until it is stopped.
func (c *statsCollector) run(ctx context.Context, receiver *webrtc.RTPReceiver) {
	if receiver == nil {
		return
	}
	for ctx.Err() == nil {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		c.process(packets)
	}
}

func (c *statsCollector) process(packets []rtcp.Packet) {
	var fractionLost uint32
	var jitter uint32
	reports := 0

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, r := range p.Reports {
				fractionLost += uint32(r.FractionLost)
				jitter += r.Jitter
				reports++
			}
		case *rtcp.SenderReport:
			for _, r := range p.Reports {
				fractionLost += uint32(r.FractionLost)
				jitter += r.Jitter
				reports++
			}
		case *rtcp.PictureLossIndication:
			c.logger.Debugw("received PLI")
		}
	}

	if reports == 0 {
		return
	}

	loss := float64(fractionLost) / float64(reports) / 255.0
	avgJitter := time.Duration(jitter/uint32(reports)) * time.Millisecond

	c.mu.Lock()
	c.stats.PacketLoss = loss
	c.stats.Jitter = avgJitter
	c.stats.ReportsSeen += reports
	c.stats.LastReportAt = time.Now()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetInboundPacketLoss(loss)
	}
}
