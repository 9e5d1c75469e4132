package application

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	billing "turpe-billing/internal/billing/domain"
	energy "turpe-billing/internal/energy/domain"
	"turpe-billing/internal/observability/metrics"
	"turpe-billing/internal/parisdate"
	perimeter "turpe-billing/internal/perimeter/domain"
	readings "turpe-billing/internal/readings/domain"
	subscription "turpe-billing/internal/subscription/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

const defaultWorkers = 4

// Failure kinds.
const (
	FailureConfiguration = "configuration"
	FailureStructural    = "structural"
	FailureInput         = "input"
)

// Data-quality flag kinds.
const (
	FlagUnknownEvent   = "unknown_event"
	FlagMissingReading = "missing_reading"
	FlagNegativeDelta  = "negative_delta"
	FlagMixedSources   = "mixed_sources"
)

// ContractFailure is a contract excluded from the run.
type ContractFailure struct {
	ContractID string
	Kind       string
	Err        error
}

// DataQualityFlag is a non-fatal anomaly carried alongside the output.
type DataQualityFlag struct {
	ContractID    string
	DeliveryPoint string
	At            time.Time
	Kind          string
	Detail        string
}

// Result is the output of one pipeline run.
type Result struct {
	Horizon       time.Time
	Contracts     int
	Subscriptions []billing.SubscriptionLine
	Energies      []billing.EnergyLine
	Records       []billing.MonthlyRecord
	Failures      []ContractFailure
	Flags         []DataQualityFlag
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Option configures the pipeline.
type Option func(*Pipeline)

// WithWorkers bounds the number of contracts processed concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the clock used to derive the default horizon.
func WithClock(clock Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// Pipeline turns contractual history and meter readings into monthly
// billing records. Per-contract work runs on a bounded worker pool; the
// rule table is a read-only snapshot shared by all workers.
type Pipeline struct {
	store   readings.Store
	workers int
	logger  *zap.Logger
	clock   Clock
}

// NewPipeline constructs a pipeline.
func NewPipeline(store readings.Store, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("billing pipeline: nil reading store")
	}
	p := &Pipeline{
		store:   store,
		workers: defaultWorkers,
		logger:  zap.NewNop(),
		clock:   SystemClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("billing.pipeline")
	return p, nil
}

type contractOutput struct {
	contractID    string
	subscriptions []subscription.Period
	energies      []energy.Period
	flags         []DataQualityFlag
	failure       *ContractFailure
}

// Run processes every contract of events. A zero horizon defaults to the
// first day of the current month. A missing tariff rule aborts the whole
// batch with a *tariff.MissingRulesError; other configuration and
// structural errors only exclude the affected contract.
func (p *Pipeline) Run(ctx context.Context, rules *tariff.RuleTable, events []perimeter.ContractEvent, horizon time.Time) (*Result, error) {
	if p == nil {
		return nil, errors.New("billing pipeline: nil pipeline")
	}
	engine, err := tariff.NewEngine(rules)
	if err != nil {
		return nil, errors.Mark(err, billing.ErrConfiguration)
	}
	if horizon.IsZero() {
		horizon = parisdate.MonthStart(p.clock.Now())
	}

	groups, _ := perimeter.GroupByContract(perimeter.Normalize(events))
	ids := lo.Keys(groups)
	sort.Strings(ids)

	outputs := make([]contractOutput, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, id := range ids {
		g.Go(func() error {
			out, err := p.processContract(gctx, id, groups[id], horizon)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Horizon: horizon, Contracts: len(ids)}
	var keys []tariff.RuleKey
	for _, out := range outputs {
		if out.failure != nil {
			continue
		}
		keys = append(keys, ruleKeys(out)...)
	}
	if _, err := rules.ResolveAll(keys); err != nil {
		p.logger.Error("tariff rules missing, batch aborted", zap.Error(err))
		return nil, errors.Mark(err, billing.ErrConfiguration)
	}

	for _, out := range outputs {
		result.Flags = append(result.Flags, out.flags...)
		if out.failure != nil {
			result.Failures = append(result.Failures, *out.failure)
			continue
		}
		subs, nrj, failure := priceContract(engine, out)
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
			continue
		}
		result.Subscriptions = append(result.Subscriptions, subs...)
		result.Energies = append(result.Energies, nrj...)
	}
	result.Records = billing.Aggregate(result.Subscriptions, result.Energies)

	for _, f := range result.Failures {
		metrics.IncContractFailure(f.Kind)
		p.logger.Warn("contract excluded",
			zap.String("contract_id", f.ContractID),
			zap.String("kind", f.Kind),
			zap.Error(f.Err))
	}
	for _, f := range result.Flags {
		metrics.IncDataQuality(f.Kind)
	}
	metrics.AddContractsProcessed(len(ids))
	p.logger.Info("pipeline completed",
		zap.Int("contracts", len(ids)),
		zap.Int("records", len(result.Records)),
		zap.Int("failures", len(result.Failures)),
		zap.Int("flags", len(result.Flags)),
		zap.String("horizon", horizon.Format("2006-01-02")))
	return result, nil
}

func (p *Pipeline) processContract(ctx context.Context, contractID string, events []perimeter.ContractEvent, horizon time.Time) (contractOutput, error) {
	out := contractOutput{contractID: contractID}
	fail := func(kind string, err error) (contractOutput, error) {
		out.failure = &ContractFailure{ContractID: contractID, Kind: kind, Err: err}
		out.subscriptions, out.energies = nil, nil
		return out, nil
	}

	if contractID == "" {
		return fail(FailureInput, perimeter.ErrEmptyContractID)
	}
	for _, e := range events {
		if !perimeter.IsKnown(e.Type) {
			out.flags = append(out.flags, DataQualityFlag{
				ContractID: contractID, DeliveryPoint: e.DeliveryPoint, At: e.At,
				Kind: FlagUnknownEvent, Detail: e.Code,
			})
			p.logger.Warn("unknown event type",
				zap.String("contract_id", contractID),
				zap.String("code", e.Code),
				zap.Time("at", e.At))
		}
	}

	withMarkers := perimeter.InsertBillingBoundaries(events, horizon)
	ruptures, err := perimeter.DetectRuptures(withMarkers)
	if err != nil {
		return fail(FailureInput, err)
	}
	for _, r := range ruptures {
		if r.Power.IsTiered() {
			if err := r.Power.Tiers.Validate(); err != nil {
				return fail(FailureConfiguration, &tariff.ConfigurationError{Formula: r.Formula, At: r.At, Err: err})
			}
		}
	}
	periods := subscription.Generate(ruptures)
	if err := subscription.ValidateContiguity(periods); err != nil {
		return fail(FailureStructural, errors.Mark(err, billing.ErrStructural))
	}

	reconciler, err := energy.NewReconciler(p.store)
	if err != nil {
		return out, err
	}
	series, err := reconciler.Reconcile(ctx, withMarkers)
	if err != nil {
		if errors.Is(err, readings.ErrMixedFamilies) {
			return fail(FailureInput, err)
		}
		return out, errors.Wrapf(err, "contract %s", contractID)
	}
	energies := energy.Generate(series)
	if err := energy.ValidateContiguity(energies); err != nil {
		return fail(FailureStructural, errors.Mark(err, billing.ErrStructural))
	}

	for _, e := range energies {
		if e.MissingReading {
			out.flags = append(out.flags, flag(e, FlagMissingReading, ""))
		}
		if e.NegativeDelta {
			out.flags = append(out.flags, flag(e, FlagNegativeDelta, channelList(e.NegativeChannels)))
		}
		if e.SourceStart != e.SourceEnd {
			out.flags = append(out.flags, flag(e, FlagMixedSources, string(e.SourceStart)+">"+string(e.SourceEnd)))
		}
	}

	out.subscriptions = periods
	out.energies = energies
	return out, nil
}

func flag(e energy.Period, kind, detail string) DataQualityFlag {
	return DataQualityFlag{
		ContractID:    e.ContractID,
		DeliveryPoint: e.DeliveryPoint,
		At:            e.Start,
		Kind:          kind,
		Detail:        detail,
	}
}

func channelList(channels []readings.Channel) string {
	return strings.Join(lo.Map(channels, func(c readings.Channel, _ int) string { return string(c) }), ",")
}

// ruleKeys lists the lookups pricing will perform for a contract.
func ruleKeys(out contractOutput) []tariff.RuleKey {
	var keys []tariff.RuleKey
	for _, s := range out.subscriptions {
		if s.Billable() && s.Formula != "" {
			keys = append(keys, tariff.NewRuleKey(s.Formula, s.Start))
		}
	}
	for _, e := range out.energies {
		if e.Formula != "" {
			keys = append(keys, tariff.NewRuleKey(e.Formula, e.Start))
		}
	}
	return keys
}

func priceContract(engine *tariff.Engine, out contractOutput) ([]billing.SubscriptionLine, []billing.EnergyLine, *ContractFailure) {
	reject := func(err error) *ContractFailure {
		return &ContractFailure{
			ContractID: out.contractID,
			Kind:       FailureConfiguration,
			Err:        errors.Mark(err, billing.ErrConfiguration),
		}
	}

	subs := make([]billing.SubscriptionLine, 0, len(out.subscriptions))
	for _, s := range out.subscriptions {
		line := billing.SubscriptionLine{Period: s}
		if s.Billable() {
			_, cost, err := engine.PriceSubscription(s.Formula, s.Start, s.Power, *s.NbDays)
			if err != nil {
				return nil, nil, reject(err)
			}
			line.Cost = cost
		}
		subs = append(subs, line)
	}

	nrj := make([]billing.EnergyLine, 0, len(out.energies))
	for _, e := range out.energies {
		cost, err := engine.PriceEnergy(e.Formula, e.Start, e.Quantities(), e.OverrunHours)
		if err != nil {
			return nil, nil, reject(err)
		}
		nrj = append(nrj, billing.EnergyLine{Period: e, Cost: cost})
	}
	return subs, nrj, nil
}
