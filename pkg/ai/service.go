// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/nestor/pkg/config"
)

// Service resolves the classifier serving a router node. Configured
// entries are built eagerly so credential problems surface at startup
// rather than mid-conversation.
type Service struct {
	registry   *Registry
	byProvider map[string]Classifier
	fallback   Classifier
	rules      Classifier
}

// NewServiceFromConfig builds every configured classifier. The entry
// named "default" serves nodes that do not pin a provider; without one
// the rules classifier does.
func NewServiceFromConfig(cfgs map[string]*config.ClassifierConfig) (*Service, error) {
	service := &Service{
		registry:   NewRegistry(),
		byProvider: make(map[string]Classifier),
		rules:      NewRulesClassifier(),
	}

	// Sorted so provider collisions resolve deterministically.
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := cfgs[name]
		if cfg == nil {
			continue
		}
		classifier, err := New(cfg)
		if err != nil {
			_ = service.Close()
			return nil, fmt.Errorf("classifier '%s': %w", name, err)
		}
		if err := service.registry.RegisterClassifier(name, classifier); err != nil {
			_ = service.Close()
			return nil, err
		}
		if _, ok := service.byProvider[cfg.Provider]; !ok {
			service.byProvider[cfg.Provider] = classifier
		}
		if name == "default" {
			service.fallback = classifier
		}
	}

	if service.fallback == nil {
		service.fallback = service.rules
	}
	return service, nil
}

// ClassifierFor returns the classifier for a provider name. An empty
// provider resolves to the default entry. The rules classifier is
// always available, configured or not.
func (s *Service) ClassifierFor(provider string) (Classifier, error) {
	if provider == "" {
		return s.fallback, nil
	}
	if classifier, ok := s.byProvider[provider]; ok {
		return classifier, nil
	}
	if provider == config.ClassifierRules {
		return s.rules, nil
	}
	return nil, fmt.Errorf("no classifier configured for provider '%s'", provider)
}

// Names returns the configured classifier entry names, sorted.
func (s *Service) Names() []string {
	return s.registry.Names()
}

// Close closes every built classifier.
func (s *Service) Close() error {
	var firstErr error
	for _, name := range s.registry.Names() {
		classifier, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		if err := classifier.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing classifier '%s': %w", name, err)
		}
	}
	return firstErr
}
