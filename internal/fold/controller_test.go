package fold_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/pkot5/kluetune/internal/dist"
	"github.com/pkot5/kluetune/internal/fold"
	"github.com/pkot5/kluetune/internal/metric"
	"github.com/pkot5/kluetune/internal/model"
	"github.com/pkot5/kluetune/internal/store"
	"github.com/pkot5/kluetune/internal/task"
)

// fakeBackend simulates a model server: sessions memorize nothing, but decode
// an input correctly once enough epochs have run.
type fakeBackend struct {
	answers  map[string]string
	minEpoch map[string]int
}

func (b *fakeBackend) Open(ctx context.Context, modelPath string, maxLength int) (model.Session, error) {
	return &fakeSession{backend: b}, nil
}

type fakeSession struct {
	backend *fakeBackend
	epochs  int
}

func (s *fakeSession) TrainEpoch(ctx context.Context, examples []task.Entry) error {
	s.epochs++
	return nil
}

func (s *fakeSession) Generate(ctx context.Context, inputs []string, p model.GenParams) ([]model.Generation, error) {
	gens := make([]model.Generation, len(inputs))
	for i, in := range inputs {
		out := "오답"
		if s.epochs >= s.backend.minEpoch[in] {
			out = s.backend.answers[in]
		}
		gens[i] = model.Generation{Output: out}
	}
	return gens, nil
}

func (s *fakeSession) Save(ctx context.Context, dir string) error {
	return os.WriteFile(filepath.Join(dir, "checkpoint.json"), []byte("{}"), 0o644)
}

func (s *fakeSession) Close() error { return nil }

func writeYnatData(t *testing.T, dir string, n int) *fakeBackend {
	t.Helper()
	backend := &fakeBackend{answers: map[string]string{}, minEpoch: map[string]int{}}
	labels := []string{"정치", "경제", "사회", "IT과학"}
	records := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			records += ","
		}
		title := fmt.Sprintf("헤드라인 %d", i)
		label := labels[i%len(labels)]
		records += fmt.Sprintf(`{"title": %q, "label": %q}`, title, label)
		input := "ynat: " + title
		backend.answers[input] = label
		// Half the inputs need a second epoch before they decode correctly.
		backend.minEpoch[input] = 1 + i%2
	}
	records += "]"
	taskDir := filepath.Join(dir, "ynat")
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(taskDir, "train.json"), []byte(records), 0o644); err != nil {
		t.Fatal(err)
	}
	return backend
}

func newTestOptions(t *testing.T, dataDir, outDir string, backend *fakeBackend, grp *dist.Group) fold.Options {
	t.Helper()
	processor, err := task.Lookup("ynat")
	if err != nil {
		t.Fatal(err)
	}
	return fold.Options{
		Processor:     processor,
		Backend:       backend,
		Group:         grp,
		ModelPath:     "./models/t5-kr-small-bbpe",
		DataDir:       dataDir,
		OutputDir:     outDir,
		Folds:         3,
		Epochs:        2,
		EvalBatchSize: 4,
		MaxLength:     128,
		GenParams:     model.GenParams{NumBeams: 2, MaxLength: 64},
	}
}

func TestControllerSingleWorker(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	backend := writeYnatData(t, dataDir, 12)

	grp, err := dist.NewGroup(store.NewMemoryStore(), dist.WorkerContext{Rank: 0, WorldSize: 1}, "run-a")
	if err != nil {
		t.Fatal(err)
	}
	ctl := fold.NewController(newTestOptions(t, dataDir, outDir, backend, grp))
	if err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := 0; i < 3; i++ {
		foldDir := filepath.Join(outDir, fmt.Sprint(i))
		if _, err := os.Stat(filepath.Join(foldDir, "checkpoint.json")); err != nil {
			t.Errorf("fold %d: checkpoint missing: %v", i, err)
		}
		rec, err := metric.ReadFile(filepath.Join(foldDir, "result_ynat.txt"))
		if err != nil {
			t.Errorf("fold %d: %v", i, err)
			continue
		}
		// Epoch 1 gets half right, epoch 2 everything; best is epoch 2.
		if rec["accuracy"] != 1.0 {
			t.Errorf("fold %d: best accuracy = %v, want 1.0", i, rec["accuracy"])
		}
	}
}

func TestControllerOnlyMainRankWritesResults(t *testing.T) {
	dataDir := t.TempDir()
	backend := writeYnatData(t, dataDir, 12)
	s := store.NewMemoryStore()
	outDirs := []string{t.TempDir(), t.TempDir()}

	g, ctx := errgroup.WithContext(context.Background())
	for rank := 0; rank < 2; rank++ {
		rank := rank
		g.Go(func() error {
			grp, err := dist.NewGroup(s, dist.WorkerContext{Rank: rank, WorldSize: 2}, "run-a")
			if err != nil {
				return err
			}
			ctl := fold.NewController(newTestOptions(t, dataDir, outDirs[rank], backend, grp))
			return ctl.Run(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker group: %v", err)
	}

	if _, err := os.Stat(filepath.Join(outDirs[0], "0", "result_ynat.txt")); err != nil {
		t.Errorf("rank 0 result file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDirs[1], "0", "result_ynat.txt")); !os.IsNotExist(err) {
		t.Errorf("rank 1 must not write result files, stat err = %v", err)
	}
	// Both ranks still save their checkpoint copy.
	if _, err := os.Stat(filepath.Join(outDirs[1], "0", "checkpoint.json")); err != nil {
		t.Errorf("rank 1 checkpoint missing: %v", err)
	}
}
