package arcgis

import "github.com/sells-group/parcel-feasibility/internal/config"

// Services maps configured source names to descriptors.
type Services map[string]Service

// ServicesFromConfig builds descriptors from the sources config section.
func ServicesFromConfig(sources map[string]config.ServiceConfig) Services {
	out := make(Services, len(sources))
	for name, sc := range sources {
		out[name] = Service{
			Name:   name,
			URL:    sc.URL,
			OutSR:  sc.OutSR,
			Format: Format(sc.Format),
		}
	}
	return out
}

// Get returns the named service. An unknown name yields a descriptor with no
// endpoint, which every call reports as unavailable.
func (s Services) Get(name string) Service {
	if svc, ok := s[name]; ok {
		return svc
	}
	return Service{Name: name}
}
