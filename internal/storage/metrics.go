package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/logging"
)

// AggregationInterval defines the aggregation type.
type AggregationInterval string

// Metrics aggregation intervals.
const (
	AggregationMinute AggregationInterval = "MINUTE"
	AggregationHour   AggregationInterval = "HOUR"
	AggregationDay    AggregationInterval = "DAY"
	AggregationMonth  AggregationInterval = "MONTH"
)

// metrics key (identifier | aggregation | timestamp)
const metricsKeyTempl = "lora:sim:metrics:%s:%s:%d"

// ErrInvalidAggregationInterval is returned for an unknown aggregation
// interval.
var ErrInvalidAggregationInterval = errors.New("invalid aggregation interval")

var (
	timeLocation         = time.Local
	aggregationIntervals []AggregationInterval
	metricsMinuteTTL     time.Duration
	metricsHourTTL       time.Duration
	metricsDayTTL        time.Duration
	metricsMonthTTL      time.Duration
)

// MetricsRecord holds a single metrics record.
type MetricsRecord struct {
	Time    time.Time
	Metrics map[string]float64
}

// SetTimeLocation sets the time location.
func SetTimeLocation(name string) error {
	var err error
	timeLocation, err = time.LoadLocation(name)
	if err != nil {
		return errors.Wrap(err, "load location error")
	}
	return nil
}

// SetAggregationIntervals sets the metrics aggregation to the given intervals.
func SetAggregationIntervals(intervals []AggregationInterval) error {
	for _, agg := range intervals {
		if _, err := metricsTTL(agg); err != nil {
			return err
		}
	}
	aggregationIntervals = intervals
	return nil
}

// SetMetricsTTL sets the storage TTL.
func SetMetricsTTL(minute, hour, day, month time.Duration) {
	metricsMinuteTTL = minute
	metricsHourTTL = hour
	metricsDayTTL = day
	metricsMonthTTL = month
}

// SaveMetrics stores the given metrics into Redis, for every configured
// aggregation interval.
func SaveMetrics(ctx context.Context, c redis.UniversalClient, name string, metrics MetricsRecord) error {
	for _, agg := range aggregationIntervals {
		if err := SaveMetricsForInterval(ctx, c, agg, name, metrics); err != nil {
			return errors.Wrap(err, "save metrics for interval error")
		}
	}

	log.WithFields(log.Fields{
		"name":        name,
		"aggregation": aggregationIntervals,
		"ctx_id":      ctx.Value(logging.ContextIDKey),
	}).Info("storage: metrics saved")

	return nil
}

// SaveMetricsForInterval aggregates and stores the given metrics. Values
// stored within the same interval are summed.
func SaveMetricsForInterval(ctx context.Context, c redis.UniversalClient, agg AggregationInterval, name string, metrics MetricsRecord) error {
	if len(metrics.Metrics) == 0 {
		return nil
	}

	ttl, err := metricsTTL(agg)
	if err != nil {
		return err
	}

	ts := truncate(metrics.Time.In(timeLocation), agg)
	key := fmt.Sprintf(metricsKeyTempl, name, agg, ts.Unix())

	pipe := c.TxPipeline()
	for k, v := range metrics.Metrics {
		pipe.HIncrByFloat(ctx, key, k, v)
	}
	pipe.PExpire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "exec error")
	}

	log.WithFields(log.Fields{
		"name":        name,
		"aggregation": agg,
		"ctx_id":      ctx.Value(logging.ContextIDKey),
	}).Debug("storage: metrics saved for interval")

	return nil
}

// GetMetrics returns the metrics for the requested aggregation interval, one
// record per interval between start and end.
func GetMetrics(ctx context.Context, c redis.UniversalClient, agg AggregationInterval, name string, start, end time.Time) ([]MetricsRecord, error) {
	if _, err := metricsTTL(agg); err != nil {
		return nil, err
	}

	start = truncate(start.In(timeLocation), agg)
	end = truncate(end.In(timeLocation), agg)

	var timestamps []time.Time
	for i := 0; ; i++ {
		ts := step(start, agg, i)
		if ts.After(end) {
			break
		}
		timestamps = append(timestamps, ts)
	}

	if len(timestamps) == 0 {
		return nil, nil
	}

	pipe := c.Pipeline()
	var cmds []*redis.StringStringMapCmd
	for _, ts := range timestamps {
		cmds = append(cmds, pipe.HGetAll(ctx, fmt.Sprintf(metricsKeyTempl, name, agg, ts.Unix())))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "exec error")
	}

	var out []MetricsRecord
	for i, ts := range timestamps {
		metrics := MetricsRecord{
			Time:    ts,
			Metrics: make(map[string]float64),
		}

		vals, err := cmds[i].Result()
		if err != nil {
			return nil, errors.Wrap(err, "hgetall error")
		}

		for k, v := range vals {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, errors.Wrap(err, "parse float error")
			}
			metrics.Metrics[k] = f
		}

		out = append(out, metrics)
	}

	return out, nil
}

func metricsTTL(agg AggregationInterval) (time.Duration, error) {
	switch agg {
	case AggregationMinute:
		return metricsMinuteTTL, nil
	case AggregationHour:
		return metricsHourTTL, nil
	case AggregationDay:
		return metricsDayTTL, nil
	case AggregationMonth:
		return metricsMonthTTL, nil
	}
	return 0, errors.Wrapf(ErrInvalidAggregationInterval, "interval: %s", agg)
}

// truncate truncates the given timestamp to the precision of the
// aggregation interval, within the configured location.
func truncate(ts time.Time, agg AggregationInterval) time.Time {
	switch agg {
	case AggregationMinute:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), 0, 0, timeLocation)
	case AggregationHour:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, timeLocation)
	case AggregationDay:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, timeLocation)
	default:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, timeLocation)
	}
}

// step returns the start of the i-th interval after ts.
func step(ts time.Time, agg AggregationInterval, i int) time.Time {
	switch agg {
	case AggregationMinute:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute()+i, 0, 0, timeLocation)
	case AggregationHour:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour()+i, 0, 0, 0, timeLocation)
	case AggregationDay:
		return time.Date(ts.Year(), ts.Month(), ts.Day()+i, 0, 0, 0, 0, timeLocation)
	default:
		return time.Date(ts.Year(), ts.Month()+time.Month(i), 1, 0, 0, 0, 0, timeLocation)
	}
}
