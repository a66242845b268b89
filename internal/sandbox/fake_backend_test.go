package sandbox

import (
	"context"
	"sync"
)

// fakeBackend is a hand-written Backend fake, the way the teacher's tests
// stub out external collaborators without a mocking framework.
type fakeBackend struct {
	mu        sync.Mutex
	available bool
	created   map[string]Request
	updated   map[string][]File
	restarted map[string][]string
	cleaned   map[string]bool

	createErr  error
	executeErr error
	response   Response
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		available: true,
		created:   make(map[string]Request),
		updated:   make(map[string][]File),
		restarted: make(map[string][]string),
		cleaned:   make(map[string]bool),
		response:  Response{Success: true, ExecutionTimeMs: 1},
	}
}

func (f *fakeBackend) Create(ctx context.Context, req Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created[req.ID] = req
	return nil
}

func (f *fakeBackend) Execute(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.executeErr != nil {
		return Response{}, f.executeErr
	}
	return f.response, nil
}

func (f *fakeBackend) Cleanup(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned[id] = true
	return nil
}

func (f *fakeBackend) IsAvailable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeBackend) UpdateFiles(ctx context.Context, id string, files []File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[id] = files
	return nil
}

func (f *fakeBackend) RestartProcess(ctx context.Context, id string, command []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarted[id] = command
	return nil
}

func (f *fakeBackend) Type() BackendType { return BackendDocker }
