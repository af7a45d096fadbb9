package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"vigil/core"
)

// MemoryStore is an in-memory Store implementation used in tests and as a
// stand-in when no database is configured. Safe for concurrent use.
type MemoryStore struct {
	mu             sync.RWMutex
	events         map[string]*core.SecurityEvent
	endpoints      map[string]*core.Endpoint
	endpointEvents []*core.EndpointEvent
	blockedIPs     map[string]*core.BlockedIP
	triageRules    map[string]*core.TriageRule
	responseRules  map[string]*core.AutoResponseRule
	incidents      map[string]*core.TriagedIncident
	hunts          map[string]*core.ThreatHunt
	findings       []*core.HuntFinding
	investigations map[string]*core.ActiveInvestigation
	notifications  []*core.Notification
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:         make(map[string]*core.SecurityEvent),
		endpoints:      make(map[string]*core.Endpoint),
		blockedIPs:     make(map[string]*core.BlockedIP),
		triageRules:    make(map[string]*core.TriageRule),
		responseRules:  make(map[string]*core.AutoResponseRule),
		incidents:      make(map[string]*core.TriagedIncident),
		hunts:          make(map[string]*core.ThreatHunt),
		investigations: make(map[string]*core.ActiveInvestigation),
	}
}

// --- EventStorage ---

func (m *MemoryStore) CreateEvent(_ context.Context, event *core.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *event
	m.events[event.ID] = &copied
	return nil
}

func (m *MemoryStore) GetEvent(_ context.Context, id string) (*core.SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	copied := *event
	return &copied, nil
}

func (m *MemoryStore) ListEvents(_ context.Context, filters *core.EventFilters) ([]*core.SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*core.SecurityEvent
	for _, event := range m.events {
		if filters != nil && !eventMatches(event, filters) {
			continue
		}
		copied := *event
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filters != nil && filters.Limit > 0 && len(result) > filters.Limit {
		result = result[:filters.Limit]
	}
	return result, nil
}

func eventMatches(event *core.SecurityEvent, f *core.EventFilters) bool {
	if len(f.Severities) > 0 {
		found := false
		for _, s := range f.Severities {
			if event.Severity == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if event.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.IPAddress != "" && event.IPAddress != f.IPAddress {
		return false
	}
	if f.Since != nil && event.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && event.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

func (m *MemoryStore) CountRecentByIP(_ context.Context, ip string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, event := range m.events {
		if event.IPAddress == ip && !event.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// --- EndpointStorage ---

func (m *MemoryStore) CreateEndpoint(_ context.Context, endpoint *core.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *endpoint
	m.endpoints[endpoint.ID] = &copied
	return nil
}

func (m *MemoryStore) GetEndpoint(_ context.Context, id string) (*core.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	endpoint, ok := m.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	copied := *endpoint
	return &copied, nil
}

func (m *MemoryStore) FindEndpointByIP(_ context.Context, ip string) (*core.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, endpoint := range m.endpoints {
		if endpoint.LastIP == ip {
			copied := *endpoint
			return &copied, nil
		}
	}
	return nil, ErrEndpointNotFound
}

func (m *MemoryStore) ListEndpoints(_ context.Context, limit int) ([]*core.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.Endpoint
	for _, endpoint := range m.endpoints {
		copied := *endpoint
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Hostname < result[j].Hostname
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) UpdateEndpoint(_ context.Context, endpoint *core.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[endpoint.ID]; !ok {
		return ErrEndpointNotFound
	}
	endpoint.UpdatedAt = time.Now().UTC()
	copied := *endpoint
	m.endpoints[endpoint.ID] = &copied
	return nil
}

// --- EndpointEventStorage ---

func (m *MemoryStore) CreateEndpointEvent(_ context.Context, event *core.EndpointEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *event
	m.endpointEvents = append(m.endpointEvents, &copied)
	return nil
}

func (m *MemoryStore) ListEndpointEvents(_ context.Context, since time.Time, limit int) ([]*core.EndpointEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.EndpointEvent
	for _, event := range m.endpointEvents {
		if event.Timestamp.Before(since) {
			continue
		}
		copied := *event
		result = append(result, &copied)
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- BlockedIPStorage ---

func (m *MemoryStore) CreateBlockedIP(_ context.Context, block *core.BlockedIP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *block
	m.blockedIPs[block.ID] = &copied
	return nil
}

func (m *MemoryStore) FindActiveBlock(_ context.Context, ip string) (*core.BlockedIP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, block := range m.blockedIPs {
		if block.IPAddress == ip && block.Active && !block.IsExpired() {
			copied := *block
			return &copied, nil
		}
	}
	return nil, ErrBlockNotFound
}

func (m *MemoryStore) ListBlockedIPs(_ context.Context, activeOnly bool, limit int) ([]*core.BlockedIP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.BlockedIP
	for _, block := range m.blockedIPs {
		if activeOnly && !block.Active {
			continue
		}
		copied := *block
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) UpdateBlockedIP(_ context.Context, block *core.BlockedIP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blockedIPs[block.ID]; !ok {
		return ErrBlockNotFound
	}
	copied := *block
	m.blockedIPs[block.ID] = &copied
	return nil
}

// --- TriageRuleStorage ---

// AddTriageRule seeds a rule; test helper, not part of the Store interface
func (m *MemoryStore) AddTriageRule(rule *core.TriageRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rule
	m.triageRules[rule.ID] = &copied
}

func (m *MemoryStore) GetTriageRule(_ context.Context, id string) (*core.TriageRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.triageRules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	copied := *rule
	return &copied, nil
}

func (m *MemoryStore) ListEnabledTriageRules(_ context.Context) ([]*core.TriageRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.TriageRule
	for _, rule := range m.triageRules {
		if rule.Enabled {
			copied := *rule
			result = append(result, &copied)
		}
	}
	return result, nil
}

// --- ResponseRuleStorage ---

// AddResponseRule seeds a rule; test helper, not part of the Store interface
func (m *MemoryStore) AddResponseRule(rule *core.AutoResponseRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rule
	m.responseRules[rule.ID] = &copied
}

func (m *MemoryStore) GetResponseRule(_ context.Context, id string) (*core.AutoResponseRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.responseRules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	copied := *rule
	return &copied, nil
}

func (m *MemoryStore) ListEnabledResponseRules(_ context.Context) ([]*core.AutoResponseRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.AutoResponseRule
	for _, rule := range m.responseRules {
		if rule.Enabled {
			copied := *rule
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *MemoryStore) UpdateLastTriggered(_ context.Context, id string, triggeredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.responseRules[id]
	if !ok {
		return ErrRuleNotFound
	}
	rule.LastTriggered = &triggeredAt
	rule.UpdatedAt = time.Now().UTC()
	return nil
}

// --- IncidentStorage ---

func (m *MemoryStore) CreateIncident(_ context.Context, incident *core.TriagedIncident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *incident
	m.incidents[incident.ID] = &copied
	return nil
}

func (m *MemoryStore) GetIncidentByEventID(_ context.Context, eventID string) (*core.TriagedIncident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, incident := range m.incidents {
		if incident.EventID == eventID {
			copied := *incident
			return &copied, nil
		}
	}
	return nil, ErrIncidentNotFound
}

func (m *MemoryStore) ListIncidents(_ context.Context, limit int) ([]*core.TriagedIncident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.TriagedIncident
	for _, incident := range m.incidents {
		copied := *incident
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- HuntStorage ---

func (m *MemoryStore) CreateHunt(_ context.Context, hunt *core.ThreatHunt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *hunt
	m.hunts[hunt.ID] = &copied
	return nil
}

func (m *MemoryStore) GetHunt(_ context.Context, id string) (*core.ThreatHunt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hunt, ok := m.hunts[id]
	if !ok {
		return nil, ErrHuntNotFound
	}
	copied := *hunt
	return &copied, nil
}

func (m *MemoryStore) UpdateHuntLastRun(_ context.Context, id string, ranAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hunt, ok := m.hunts[id]
	if !ok {
		return ErrHuntNotFound
	}
	hunt.LastRunAt = &ranAt
	hunt.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CreateFinding(_ context.Context, finding *core.HuntFinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *finding
	m.findings = append(m.findings, &copied)
	return nil
}

func (m *MemoryStore) ListFindings(_ context.Context, huntID string, limit int) ([]*core.HuntFinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.HuntFinding
	for _, finding := range m.findings {
		if huntID != "" && finding.HuntID != huntID {
			continue
		}
		copied := *finding
		result = append(result, &copied)
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- InvestigationStorage ---

func (m *MemoryStore) CreateInvestigation(_ context.Context, inv *core.ActiveInvestigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *inv
	m.investigations[inv.ID] = &copied
	return nil
}

func (m *MemoryStore) GetInvestigation(_ context.Context, id string) (*core.ActiveInvestigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.investigations[id]
	if !ok {
		return nil, ErrInvestigationNotFound
	}
	copied := *inv
	copied.Timeline = append([]core.TimelineEntry(nil), inv.Timeline...)
	return &copied, nil
}

func (m *MemoryStore) UpdateInvestigation(_ context.Context, inv *core.ActiveInvestigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.investigations[inv.ID]; !ok {
		return ErrInvestigationNotFound
	}
	copied := *inv
	copied.Timeline = append([]core.TimelineEntry(nil), inv.Timeline...)
	m.investigations[inv.ID] = &copied
	return nil
}

// --- NotificationStorage ---

func (m *MemoryStore) CreateNotification(_ context.Context, n *core.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *n
	m.notifications = append(m.notifications, &copied)
	return nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, limit int) ([]*core.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.Notification
	for _, n := range m.notifications {
		copied := *n
		result = append(result, &copied)
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
