// Package metrics exports orchestrator activity as Prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bitfsorg/libmatrix-go/contract"
	"github.com/bitfsorg/libmatrix-go/ledger"
)

const namespace = "matrix"

// Collector implements contract.Observer on top of Prometheus metrics.
type Collector struct {
	Registrations   prometheus.Counter
	Upgrades        prometheus.Counter
	LevelsBought    prometheus.Counter
	PayoutGwei      *prometheus.CounterVec // by kind
	Payouts         *prometheus.CounterVec // by kind
	LostGwei        prometheus.Counter
	Distributions   *prometheus.CounterVec // by tier
	DistributedGwei *prometheus.CounterVec // by tier
	Claims          prometheus.Counter
	Rejections      *prometheus.CounterVec // by op and reason

	Users           prometheus.Gauge
	Paused          prometheus.Gauge
	ContractBalance prometheus.Gauge
	PoolBalance     *prometheus.GaugeVec // by tier
	PoolMembers     *prometheus.GaugeVec // by tier
}

var _ contract.Observer = (*Collector)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "registrations_total",
			Help: "Users registered.",
		}),
		Upgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "upgrades_total",
			Help: "Upgrade operations committed.",
		}),
		LevelsBought: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "levels_bought_total",
			Help: "Levels purchased across all upgrades.",
		}),
		PayoutGwei: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payout_gwei_total",
			Help: "Amount paid out, by payout kind.",
		}, []string{"kind"}),
		Payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payouts_total",
			Help: "Payouts decided, by payout kind.",
		}, []string{"kind"}),
		LostGwei: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "lost_income_gwei_total",
			Help: "Shares that found no qualified upline and went to the root.",
		}),
		Distributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "royalty_distributions_total",
			Help: "Royalty epoch distributions, by tier.",
		}, []string{"tier"}),
		DistributedGwei: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "royalty_distributed_gwei_total",
			Help: "Royalty credited to members, by tier.",
		}, []string{"tier"}),
		Claims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "royalty_claims_total",
			Help: "Royalty claims paid.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_total",
			Help: "Operations rejected before commit, by operation and reason.",
		}, []string{"op", "reason"}),
		Users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "users",
			Help: "Registered users including the root.",
		}),
		Paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "paused",
			Help: "1 while the circuit breaker is engaged.",
		}),
		ContractBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "contract_balance_gwei",
			Help: "Royalty funds held: pools plus unclaimed accruals.",
		}),
		PoolBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "royalty_pool_gwei",
			Help: "Undistributed royalty pool balance, by tier.",
		}, []string{"tier"}),
		PoolMembers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "royalty_pool_members",
			Help: "Active royalty members, by tier.",
		}, []string{"tier"}),
	}

	for _, col := range []prometheus.Collector{
		c.Registrations, c.Upgrades, c.LevelsBought, c.PayoutGwei, c.Payouts, c.LostGwei,
		c.Distributions, c.DistributedGwei, c.Claims, c.Rejections,
		c.Users, c.Paused, c.ContractBalance, c.PoolBalance, c.PoolMembers,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func tierLabel(tier uint8) string {
	return strconv.Itoa(int(tier))
}

// Committed records a persisted receipt and refreshes the gauges from s.
func (c *Collector) Committed(r *ledger.Receipt, s contract.Stats) {
	switch r.Op {
	case ledger.OpRegister:
		c.Registrations.Inc()
	case ledger.OpUpgrade:
		c.Upgrades.Inc()
		c.LevelsBought.Add(float64(r.ToLevel - r.FromLevel))
	case ledger.OpClaim:
		c.Claims.Inc()
	case ledger.OpDistribute:
		c.Distributions.WithLabelValues(tierLabel(r.Tier)).Inc()
		c.DistributedGwei.WithLabelValues(tierLabel(r.Tier)).Add(float64(r.Payment))
	}
	for _, p := range r.Payouts {
		c.Payouts.WithLabelValues(p.Kind.String()).Inc()
		c.PayoutGwei.WithLabelValues(p.Kind.String()).Add(float64(p.Amount))
	}
	c.LostGwei.Add(float64(r.Lost))
	c.update(s)
}

// Rejected counts a failed operation under its error code.
func (c *Collector) Rejected(op ledger.Op, err error) {
	c.Rejections.WithLabelValues(string(op), contract.ErrorCode(err)).Inc()
}

func (c *Collector) update(s contract.Stats) {
	c.Users.Set(float64(s.Users))
	c.ContractBalance.Set(float64(s.ContractBalance))
	if s.Paused {
		c.Paused.Set(1)
	} else {
		c.Paused.Set(0)
	}
	for i := range s.Pools {
		c.PoolBalance.WithLabelValues(tierLabel(uint8(i))).Set(float64(s.Pools[i]))
		c.PoolMembers.WithLabelValues(tierLabel(uint8(i))).Set(float64(s.Members[i]))
	}
}

// Sync sets the gauges from s without counting an operation.
func (c *Collector) Sync(s contract.Stats) {
	c.update(s)
}
