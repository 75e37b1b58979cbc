package domain

import (
	"encoding/json"
	"sort"
	"time"
)

type ServiceType string

const (
	ServiceCaseAnalysis ServiceType = "case_analysis"
	ServiceSearch       ServiceType = "search"
	ServiceConsultation ServiceType = "consultation"
	ServiceStructuring  ServiceType = "structuring"
	ServiceChat         ServiceType = "chat"
)

// ServiceLimits is the static resource budget of one service type.
type ServiceLimits struct {
	MaxConcurrent int           `json:"max_concurrent"`
	MaxQueueSize  int           `json:"max_queue_size"`
	Timeout       time.Duration `json:"-"`
	Priority      int           `json:"priority"`
}

func (l ServiceLimits) MarshalJSON() ([]byte, error) {
	type alias ServiceLimits
	return json.Marshal(struct {
		alias
		Timeout float64 `json:"timeout"`
	}{alias(l), l.Timeout.Seconds()})
}

type Limits map[ServiceType]ServiceLimits

// Conservative budgets for a host shared with model inference. Heavier
// services get fewer slots and shorter queues.
var DefaultLimits = Limits{
	ServiceCaseAnalysis: {MaxConcurrent: 1, MaxQueueSize: 5, Timeout: 180 * time.Second, Priority: 1},
	ServiceSearch:       {MaxConcurrent: 2, MaxQueueSize: 10, Timeout: 60 * time.Second, Priority: 2},
	ServiceConsultation: {MaxConcurrent: 1, MaxQueueSize: 5, Timeout: 120 * time.Second, Priority: 3},
	ServiceStructuring:  {MaxConcurrent: 2, MaxQueueSize: 8, Timeout: 90 * time.Second, Priority: 4},
	ServiceChat:         {MaxConcurrent: 3, MaxQueueSize: 15, Timeout: 30 * time.Second, Priority: 5},
}

// Lookup returns the limits for st and whether st is a known service type.
func (l Limits) Lookup(st ServiceType) (ServiceLimits, bool) {
	v, ok := l[st]
	return v, ok
}

// Types returns the configured service types in a stable order.
func (l Limits) Types() []ServiceType {
	out := make([]ServiceType, 0, len(l))
	for st := range l {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
