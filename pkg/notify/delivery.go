package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/bms/pkg/billing"
)

// DeliveryStatus represents the status of a webhook delivery
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog records the delivery of one event to one endpoint.
// Payload holds the exact bytes sent so retries are byte-identical.
type DeliveryLog struct {
	ID             string            `json:"id"`
	EndpointID     string            `json:"endpoint_id"`
	EventID        string            `json:"event_id"`
	EventType      billing.EventType `json:"event_type"`
	URL            string            `json:"url"`
	Status         DeliveryStatus    `json:"status"`
	StatusCode     int               `json:"status_code,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Attempts       int               `json:"attempts"`
	Payload        []byte            `json:"-"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Duration       time.Duration     `json:"duration,omitempty"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	ResponseBody   string            `json:"response_body,omitempty"`
}

// DeliveryStats summarizes deliveries for an endpoint
type DeliveryStats struct {
	EndpointID      string        `json:"endpoint_id"`
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Retrying        int           `json:"retrying"`
	Pending         int           `json:"pending"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	TotalDuration   time.Duration `json:"total_duration"`
}

// DeliveryLogStore keeps a bounded in-memory history of deliveries.
// Values are copied in and out so callers never share state with workers.
type DeliveryLogStore struct {
	mutex   sync.RWMutex
	logs    map[string]DeliveryLog
	maxLogs int
}

// NewDeliveryLogStore creates a store holding at most maxLogs entries
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &DeliveryLogStore{
		logs:    make(map[string]DeliveryLog),
		maxLogs: maxLogs,
	}
}

// Add inserts a log, evicting the oldest entries when full
func (s *DeliveryLogStore) Add(log DeliveryLog) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.logs[log.ID]; !exists && len(s.logs) >= s.maxLogs {
		s.evictOldest()
	}
	s.logs[log.ID] = clone(log)
}

// Update replaces a log. Logs evicted in the meantime are not resurrected.
func (s *DeliveryLogStore) Update(log DeliveryLog) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.logs[log.ID]; !exists {
		return
	}
	s.logs[log.ID] = clone(log)
}

// Get retrieves a delivery log by ID
func (s *DeliveryLogStore) Get(id string) (DeliveryLog, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	log, ok := s.logs[id]
	if !ok {
		return DeliveryLog{}, false
	}
	return clone(log), true
}

// GetByEndpoint returns logs for an endpoint, newest first
func (s *DeliveryLogStore) GetByEndpoint(endpointID string, limit int) []DeliveryLog {
	s.mutex.RLock()
	var result []DeliveryLog
	for _, log := range s.logs {
		if log.EndpointID == endpointID {
			result = append(result, clone(log))
		}
	}
	s.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// GetByEvent returns the deliveries of one event
func (s *DeliveryLogStore) GetByEvent(eventID string) []DeliveryLog {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var result []DeliveryLog
	for _, log := range s.logs {
		if log.EventID == eventID {
			result = append(result, clone(log))
		}
	}
	return result
}

// GetPendingRetries returns retrying deliveries that are due at now
func (s *DeliveryLogStore) GetPendingRetries(now time.Time) []DeliveryLog {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var result []DeliveryLog
	for _, log := range s.logs {
		if log.Status == DeliveryStatusRetrying && log.NextRetryAt != nil && !log.NextRetryAt.After(now) {
			result = append(result, clone(log))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].NextRetryAt.Before(*result[j].NextRetryAt)
	})
	return result
}

// GetStats returns delivery statistics for an endpoint
func (s *DeliveryLogStore) GetStats(endpointID string) DeliveryStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := DeliveryStats{EndpointID: endpointID}
	for _, log := range s.logs {
		if log.EndpointID != endpointID {
			continue
		}
		stats.Total++
		switch log.Status {
		case DeliveryStatusSuccess:
			stats.Successful++
			stats.TotalDuration += log.Duration
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusRetrying:
			stats.Retrying++
		case DeliveryStatusPending:
			stats.Pending++
		}
	}
	if stats.Successful > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Successful)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}

// evictOldest removes the oldest 10% of logs. Caller holds the write lock.
func (s *DeliveryLogStore) evictOldest() {
	logs := make([]DeliveryLog, 0, len(s.logs))
	for _, log := range s.logs {
		logs = append(logs, log)
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].CreatedAt.Before(logs[j].CreatedAt)
	})

	evict := len(logs) / 10
	if evict == 0 {
		evict = 1
	}
	for i := 0; i < evict && i < len(logs); i++ {
		delete(s.logs, logs[i].ID)
	}
}

func clone(log DeliveryLog) DeliveryLog {
	if log.NextRetryAt != nil {
		t := *log.NextRetryAt
		log.NextRetryAt = &t
	}
	if log.CompletedAt != nil {
		t := *log.CompletedAt
		log.CompletedAt = &t
	}
	if log.RequestHeaders != nil {
		headers := make(map[string]string, len(log.RequestHeaders))
		for k, v := range log.RequestHeaders {
			headers[k] = v
		}
		log.RequestHeaders = headers
	}
	return log
}
