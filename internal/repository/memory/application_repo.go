package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/atlasgate/portal/internal/domain"
)

type ApplicationRepo struct {
	mu   sync.RWMutex
	apps map[domain.ApplicationContext]struct{}
}

func NewApplicationRepo() *ApplicationRepo {
	return &ApplicationRepo{apps: make(map[domain.ApplicationContext]struct{})}
}

// Add registers an application so messages can reference it.
func (r *ApplicationRepo) Add(app domain.ApplicationContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[app] = struct{}{}
}

// Seed registers applications written as "<type>:<id>".
func (r *ApplicationRepo) Seed(refs []string) error {
	for _, ref := range refs {
		appType, appID, _ := strings.Cut(ref, ":")
		app := domain.ParseApplicationContext(appType, appID)
		if app == nil {
			return fmt.Errorf("invalid application reference %q", ref)
		}
		r.Add(*app)
	}
	return nil
}

func (r *ApplicationRepo) Exists(ctx context.Context, app domain.ApplicationContext) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.apps[app]
	return ok, nil
}
