package system

import "sort"

// Descriptor advertises a registered service and what it provides. It does
// not change runtime behavior; the admin status endpoint reports it.
type Descriptor struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Describer is implemented by services that advertise capabilities.
type Describer interface {
	Descriptor() Descriptor
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}

// Descriptors describes registered services in start order. Services that do
// not implement Describer are reported by name only.
func (m *Manager) Descriptors() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Descriptor, len(m.services))
	for i, svc := range m.services {
		if d, ok := svc.(Describer); ok {
			out[i] = d.Descriptor()
			continue
		}
		out[i] = Descriptor{Name: svc.Name()}
	}
	return out
}

// Descriptor reports the static capabilities of a NoopService.
func (n NoopService) Descriptor() Descriptor {
	return Descriptor{Name: n.ServiceName}.WithCapabilities(n.Capabilities...)
}

// Descriptor lists scheduled jobs as capabilities.
func (s *Scheduler) Descriptor() Descriptor {
	jobs := s.Jobs()
	sort.Strings(jobs)
	caps := make([]string, len(jobs))
	for i, name := range jobs {
		caps[i] = "job:" + name
	}
	return Descriptor{Name: s.Name()}.WithCapabilities(caps...)
}
