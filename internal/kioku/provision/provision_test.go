package provision

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/bdobrica/Kioku/common/retry"
)

// fakeDocker records calls and keeps a single container in memory.
type fakeDocker struct {
	hasImage  bool
	container *types.ContainerJSON
	calls     []string

	createdConfig *container.Config
	createdHost   *container.HostConfig
	startErr      error
}

func (f *fakeDocker) ImageInspectWithRaw(_ context.Context, ref string) (types.ImageInspect, []byte, error) {
	f.calls = append(f.calls, "image-inspect")
	if !f.hasImage {
		return types.ImageInspect{}, nil, errdefs.NotFound(errors.New("no such image"))
	}
	return types.ImageInspect{ID: "sha256:img"}, nil, nil
}

func (f *fakeDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.calls = append(f.calls, "pull")
	f.hasImage = true
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded"}`)), nil
}

func (f *fakeDocker) ContainerInspect(_ context.Context, id string) (types.ContainerJSON, error) {
	f.calls = append(f.calls, "inspect")
	if f.container == nil {
		return types.ContainerJSON{}, errdefs.NotFound(errors.New("no such container"))
	}
	return *f.container, nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.calls = append(f.calls, "create")
	f.createdConfig, f.createdHost = cfg, host
	f.container = &types.ContainerJSON{ContainerJSONBase: &types.ContainerJSONBase{
		ID:    "0123456789abcdef",
		Name:  "/" + name,
		State: &types.ContainerState{Status: "created"},
	}}
	return container.CreateResponse{ID: "0123456789abcdef"}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.calls = append(f.calls, "start")
	if f.startErr != nil {
		return f.startErr
	}
	f.container.State = &types.ContainerState{Status: "running", Running: true}
	return nil
}

func (f *fakeDocker) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.calls = append(f.calls, "stop")
	if f.container == nil {
		return errdefs.NotFound(errors.New("no such container"))
	}
	f.container.State = &types.ContainerState{Status: "exited"}
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.calls = append(f.calls, "remove")
	if f.container == nil {
		return errdefs.NotFound(errors.New("no such container"))
	}
	f.container = nil
	return nil
}

type probeFunc func(ctx context.Context) error

func (p probeFunc) Health(ctx context.Context) error { return p(ctx) }

func testSpec() Spec {
	return Spec{
		Image:         "ghcr.io/huggingface/text-embeddings-inference:cpu-1.5",
		Name:          "kioku-encoder",
		ModelID:       "DeepPavlov/rubert-base-cased-sentence",
		HostPort:      8080,
		DataVolume:    "kioku-encoder-data",
		HealthTimeout: 2 * time.Second,
	}
}

func newTestProvisioner(api dockerAPI) *Provisioner {
	p := newProvisioner(api, nil)
	p.healthRetry = retry.Config{MaxAttempts: 10, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return p
}

func TestEnsureEncoder_CreatesFromScratch(t *testing.T) {
	api := &fakeDocker{}
	p := newTestProvisioner(api)

	probes := 0
	probe := probeFunc(func(context.Context) error {
		probes++
		if probes < 3 {
			return errors.New("loading model")
		}
		return nil
	})

	st, err := p.EnsureEncoder(context.Background(), testSpec(), probe)
	if err != nil {
		t.Fatalf("EnsureEncoder: %v", err)
	}
	if !st.Pulled || !st.Created || !st.Started || st.ContainerID != "0123456789abcdef" {
		t.Errorf("status = %+v", st)
	}
	if probes != 3 {
		t.Errorf("probed %d times, want 3", probes)
	}
	want := "inspect,image-inspect,pull,create,start"
	if got := strings.Join(api.calls, ","); got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}

	cfg, host := api.createdConfig, api.createdHost
	if strings.Join(cfg.Cmd, " ") != "--model-id DeepPavlov/rubert-base-cased-sentence" {
		t.Errorf("cmd = %v", cfg.Cmd)
	}
	if cfg.Labels[labelManagedBy] != managedByValue {
		t.Errorf("labels = %v", cfg.Labels)
	}
	bindings := host.PortBindings[nat.Port("80/tcp")]
	if len(bindings) != 1 || bindings[0].HostPort != "8080" || bindings[0].HostIP != "127.0.0.1" {
		t.Errorf("port bindings = %v", host.PortBindings)
	}
	if len(host.Mounts) != 1 || host.Mounts[0].Source != "kioku-encoder-data" || host.Mounts[0].Target != "/data" {
		t.Errorf("mounts = %+v", host.Mounts)
	}
}

func TestEnsureEncoder_ImagePresent(t *testing.T) {
	api := &fakeDocker{hasImage: true}
	st, err := newTestProvisioner(api).EnsureEncoder(context.Background(), testSpec(), nil)
	if err != nil {
		t.Fatalf("EnsureEncoder: %v", err)
	}
	if st.Pulled || !st.Created {
		t.Errorf("status = %+v", st)
	}
}

func TestEnsureEncoder_AlreadyRunning(t *testing.T) {
	api := &fakeDocker{container: &types.ContainerJSON{ContainerJSONBase: &types.ContainerJSONBase{
		ID:    "running-id",
		State: &types.ContainerState{Status: "running", Running: true},
	}}}
	st, err := newTestProvisioner(api).EnsureEncoder(context.Background(), testSpec(), probeFunc(func(context.Context) error { return nil }))
	if err != nil {
		t.Fatalf("EnsureEncoder: %v", err)
	}
	if st.Created || st.Started || st.ContainerID != "running-id" {
		t.Errorf("status = %+v", st)
	}
	if got := strings.Join(api.calls, ","); got != "inspect" {
		t.Errorf("calls = %s, want inspect only", got)
	}
}

func TestEnsureEncoder_RestartsStopped(t *testing.T) {
	api := &fakeDocker{container: &types.ContainerJSON{ContainerJSONBase: &types.ContainerJSONBase{
		ID:    "stopped-id",
		State: &types.ContainerState{Status: "exited"},
	}}}
	st, err := newTestProvisioner(api).EnsureEncoder(context.Background(), testSpec(), nil)
	if err != nil {
		t.Fatalf("EnsureEncoder: %v", err)
	}
	if st.Created || !st.Started {
		t.Errorf("status = %+v", st)
	}
	if got := strings.Join(api.calls, ","); got != "inspect,start" {
		t.Errorf("calls = %s", got)
	}
}

func TestEnsureEncoder_Errors(t *testing.T) {
	t.Run("invalid spec", func(t *testing.T) {
		spec := testSpec()
		spec.HostPort = 0
		if _, err := newTestProvisioner(&fakeDocker{}).EnsureEncoder(context.Background(), spec, nil); err == nil {
			t.Error("expected a validation error")
		}
	})

	t.Run("start fails", func(t *testing.T) {
		api := &fakeDocker{hasImage: true, startErr: errors.New("port already allocated")}
		_, err := newTestProvisioner(api).EnsureEncoder(context.Background(), testSpec(), nil)
		if err == nil || !strings.Contains(err.Error(), "port already allocated") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("never healthy", func(t *testing.T) {
		api := &fakeDocker{hasImage: true}
		p := newTestProvisioner(api)
		p.healthRetry.MaxAttempts = 3
		_, err := p.EnsureEncoder(context.Background(), testSpec(), probeFunc(func(context.Context) error {
			return errors.New("connection refused")
		}))
		if err == nil || !strings.Contains(err.Error(), "not healthy") {
			t.Errorf("err = %v", err)
		}
	})
}

func TestStopEncoder(t *testing.T) {
	api := &fakeDocker{hasImage: true}
	p := newTestProvisioner(api)
	ctx := context.Background()
	if _, err := p.EnsureEncoder(ctx, testSpec(), nil); err != nil {
		t.Fatalf("EnsureEncoder: %v", err)
	}

	if err := p.StopEncoder(ctx, "kioku-encoder", false); err != nil {
		t.Fatalf("StopEncoder: %v", err)
	}
	if api.container == nil || api.container.State.Running {
		t.Error("container should be stopped but kept")
	}

	if err := p.StopEncoder(ctx, "kioku-encoder", true); err != nil {
		t.Fatalf("StopEncoder(remove): %v", err)
	}
	if api.container != nil {
		t.Error("container should be removed")
	}

	if err := p.StopEncoder(ctx, "kioku-encoder", true); err != nil {
		t.Errorf("StopEncoder on a missing container: %v", err)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
