package ptz

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/config"
	"github.com/camhub-project/camhub/internal/worker"
)

// fixedCam has no PTZ extension.
type fixedCam struct {
	name string
}

func (f *fixedCam) Name() string                                  { return f.name }
func (f *fixedCam) Type() string                                  { return "fixed" }
func (f *fixedCam) Connect(ctx context.Context) error             { return nil }
func (f *fixedCam) Disconnect(ctx context.Context) error          { return nil }
func (f *fixedCam) Status() camera.Status                         { return camera.Status{Name: f.name} }
func (f *fixedCam) StreamURL(ctx context.Context) (string, error) { return "", nil }

// ptzCam records PTZ calls. Position feedback and absolute moves are
// switchable to model continuous-only hardware.
type ptzCam struct {
	fixedCam
	hasFeedback bool
	hasAbsolute bool
	position    camera.PTZPosition

	moves  []camera.PTZPosition
	stops  int
	gotos  []camera.PTZPosition
	tokens []string
}

func (p *ptzCam) Move(ctx context.Context, v camera.PTZPosition) error {
	p.moves = append(p.moves, v)
	return nil
}

func (p *ptzCam) Stop(ctx context.Context) error {
	p.stops++
	return nil
}

func (p *ptzCam) Presets(ctx context.Context) ([]camera.PTZPreset, error) {
	return []camera.PTZPreset{{Token: "t1", Name: "vendor-one"}}, nil
}

func (p *ptzCam) GoToPreset(ctx context.Context, token string) error {
	p.tokens = append(p.tokens, token)
	return nil
}

func (p *ptzCam) Position(ctx context.Context) (*camera.PTZPosition, error) {
	if !p.hasFeedback {
		return nil, nil
	}
	pos := p.position
	return &pos, nil
}

func (p *ptzCam) GoToPosition(ctx context.Context, pos camera.PTZPosition) error {
	if !p.hasAbsolute {
		return camera.ErrNotSupported
	}
	p.gotos = append(p.gotos, pos)
	return nil
}

func testService(t *testing.T) (*Service, *camera.Registry, *ptzCam) {
	t.Helper()

	cam := &ptzCam{
		fixedCam:    fixedCam{name: "dome"},
		hasFeedback: true,
		hasAbsolute: true,
		position:    camera.PTZPosition{Pan: 0.4, Tilt: -0.2, Zoom: 0.6},
	}

	factory := camera.NewFactory()
	factory.Register("dome", func(cfg config.CameraConfig) (camera.Camera, error) {
		return cam, nil
	})
	factory.Register("fixed", func(cfg config.CameraConfig) (camera.Camera, error) {
		return &fixedCam{name: cfg.Name}, nil
	})

	registry := camera.NewRegistry(factory)
	registry.Add(config.CameraConfig{Name: "dome", Type: "dome"})
	registry.Add(config.CameraConfig{Name: "wall", Type: "fixed"})

	store, err := NewStore(filepath.Join(t.TempDir(), "presets.yaml"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	return NewService(registry, store, worker.NewPool(2)), registry, cam
}

func TestMoveDispatches(t *testing.T) {
	svc, _, cam := testService(t)

	v := camera.PTZPosition{Pan: 0.5, Tilt: 0.5, Zoom: 0}
	if err := svc.Move(context.Background(), "dome", v); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if len(cam.moves) != 1 || cam.moves[0] != v {
		t.Errorf("Expected one move %+v, got %v", v, cam.moves)
	}
}

func TestSequentialMovesLastCommandWins(t *testing.T) {
	svc, _, cam := testService(t)

	first := camera.PTZPosition{Pan: 0.5}
	second := camera.PTZPosition{Pan: -0.3, Tilt: 0.2}

	if err := svc.Move(context.Background(), "dome", first); err != nil {
		t.Fatalf("First move failed: %v", err)
	}
	if err := svc.Move(context.Background(), "dome", second); err != nil {
		t.Fatalf("Second move failed: %v", err)
	}

	// The second vector reaches the device as-is; no implicit stop is
	// issued between commands.
	if len(cam.moves) != 2 {
		t.Fatalf("Both moves should reach the device, got %v", cam.moves)
	}
	if cam.moves[1] != second {
		t.Errorf("Second move should supersede the first, got %+v", cam.moves[1])
	}
	if cam.stops != 0 {
		t.Errorf("No stop should be issued between moves, got %d", cam.stops)
	}
}

func TestMoveInvalidVelocity(t *testing.T) {
	svc, _, cam := testService(t)

	err := svc.Move(context.Background(), "dome", camera.PTZPosition{Pan: 2})
	if !errors.Is(err, camera.ErrInvalidPosition) {
		t.Errorf("Expected ErrInvalidPosition, got %v", err)
	}
	if len(cam.moves) != 0 {
		t.Error("Invalid velocity must not reach the device")
	}
}

func TestMoveOnFixedCamera(t *testing.T) {
	svc, _, _ := testService(t)

	err := svc.Move(context.Background(), "wall", camera.PTZPosition{Pan: 0.5})
	if !errors.Is(err, camera.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported, got %v", err)
	}
}

func TestMoveUnknownCamera(t *testing.T) {
	svc, _, _ := testService(t)

	err := svc.Move(context.Background(), "ghost", camera.PTZPosition{})
	if !errors.Is(err, camera.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStop(t *testing.T) {
	svc, _, cam := testService(t)

	if err := svc.Stop(context.Background(), "dome"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if cam.stops != 1 {
		t.Errorf("Expected one stop, got %d", cam.stops)
	}
}

func TestVendorPresets(t *testing.T) {
	svc, _, cam := testService(t)

	presets, err := svc.VendorPresets(context.Background(), "dome")
	if err != nil {
		t.Fatalf("VendorPresets failed: %v", err)
	}
	if len(presets) != 1 || presets[0].Token != "t1" {
		t.Errorf("Expected vendor preset t1, got %v", presets)
	}

	if err := svc.GoToVendorPreset(context.Background(), "dome", "t1"); err != nil {
		t.Fatalf("GoToVendorPreset failed: %v", err)
	}
	if len(cam.tokens) != 1 || cam.tokens[0] != "t1" {
		t.Errorf("Expected goto token t1, got %v", cam.tokens)
	}
}

func TestSavePresetCapturesPosition(t *testing.T) {
	svc, _, cam := testService(t)

	if err := svc.SavePreset(context.Background(), "dome", "gate", ""); err != nil {
		t.Fatalf("SavePreset failed: %v", err)
	}

	names := svc.ListPresets("dome")
	if len(names) != 1 || names[0] != "gate" {
		t.Fatalf("Expected stored preset gate, got %v", names)
	}

	if err := svc.GoToPreset(context.Background(), "dome", "gate"); err != nil {
		t.Fatalf("GoToPreset failed: %v", err)
	}
	if len(cam.gotos) != 1 || cam.gotos[0] != cam.position {
		t.Errorf("GoToPreset should issue the captured position, got %v", cam.gotos)
	}
}

func TestSavePresetWithoutFeedback(t *testing.T) {
	svc, _, cam := testService(t)
	cam.hasFeedback = false

	err := svc.SavePreset(context.Background(), "dome", "gate", "")
	if !errors.Is(err, camera.ErrNotSupported) {
		t.Errorf("Capturing without feedback should fail with ErrNotSupported, got %v", err)
	}
	if len(svc.ListPresets("dome")) != 0 {
		t.Error("Failed capture must not store anything")
	}
}

func TestGoToPresetWithoutAbsoluteMove(t *testing.T) {
	svc, _, cam := testService(t)

	if err := svc.SavePreset(context.Background(), "dome", "gate", ""); err != nil {
		t.Fatalf("SavePreset failed: %v", err)
	}
	cam.hasAbsolute = false

	err := svc.GoToPreset(context.Background(), "dome", "gate")
	if !errors.Is(err, camera.ErrNotSupported) {
		t.Errorf("Expected hard ErrNotSupported, got %v", err)
	}
	if len(cam.moves) != 0 {
		t.Error("Preset recall must never be faked with velocity moves")
	}
}

func TestGoToMissingPreset(t *testing.T) {
	svc, _, _ := testService(t)

	err := svc.GoToPreset(context.Background(), "dome", "ghost")
	if !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("Expected ErrPresetNotFound, got %v", err)
	}
}

func TestRemovedCameraDropsPresets(t *testing.T) {
	svc, registry, _ := testService(t)

	if err := svc.SavePreset(context.Background(), "dome", "gate", ""); err != nil {
		t.Fatalf("SavePreset failed: %v", err)
	}

	registry.Remove(context.Background(), "dome")

	if len(svc.ListPresets("dome")) != 0 {
		t.Error("Removing a camera should drop its stored presets")
	}
}
