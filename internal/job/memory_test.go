package job

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryRepository_Save(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New()

	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, saved.ID)
	}
}

func TestMemoryRepository_Save_Update(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New()
	_ = repo.Save(ctx, job)

	_ = job.Start()
	job.UpdateProgress(50)
	_ = repo.Save(ctx, job)

	saved, _ := repo.FindByID(ctx, job.ID)
	if saved.Status != StatusProcessing {
		t.Errorf("expected status %s, got %s", StatusProcessing, saved.Status)
	}
	if saved.Progress != 50 {
		t.Errorf("expected progress 50, got %d", saved.Progress)
	}
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindByID(context.Background(), "nonexistent")
	if err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_FindByID_ReturnsClone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New()
	_ = repo.Save(ctx, job)

	found, _ := repo.FindByID(ctx, job.ID)
	found.Progress = 99
	_ = found.Start()

	original, _ := repo.FindByID(ctx, job.ID)
	if original.Progress != 0 {
		t.Error("modifying returned job should not affect repository")
	}
	if original.Status != StatusQueued {
		t.Error("modifying returned job status should not affect repository")
	}
}

func TestMemoryRepository_List_NewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	jobs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected 0 jobs, got %d", len(jobs))
	}

	base := time.Now().UTC()
	for i, name := range []string{"old", "mid", "new"} {
		j := NewWithID(name)
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_ = repo.Save(ctx, j)
	}

	jobs, _ = repo.List(ctx)
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "new" || jobs[1].ID != "mid" || jobs[2].ID != "old" {
		t.Errorf("unexpected order: %s, %s, %s", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}
}

func TestMemoryRepository_ListQueued_OldestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, name := range []string{"first", "second", "third"} {
		j := NewWithID(name)
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_ = repo.Save(ctx, j)
	}
	running := NewWithID("running")
	running.CreatedAt = base.Add(-time.Hour)
	_ = running.Start()
	_ = repo.Save(ctx, running)

	jobs, err := repo.ListQueued(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 queued jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "first" || jobs[2].ID != "third" {
		t.Errorf("unexpected order: %s .. %s", jobs[0].ID, jobs[2].ID)
	}
}

func TestMemoryRepository_Claim(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New()
	_ = repo.Save(ctx, job)

	claimed, err := repo.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed.Status != StatusProcessing {
		t.Errorf("expected status %s, got %s", StatusProcessing, claimed.Status)
	}

	if _, err := repo.Claim(ctx, job.ID); err != ErrNotClaimable {
		t.Errorf("second claim: expected ErrNotClaimable, got %v", err)
	}
	if _, err := repo.Claim(ctx, "missing"); err != ErrJobNotFound {
		t.Errorf("missing job: expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_Claim_OnlyOneWinner(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New()
	_ = repo.Save(ctx, job)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Claim(ctx, job.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful claim, got %d", wins)
	}
}

func TestMemoryRepository_UpdateProgress(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New()
	_ = repo.Save(ctx, job)

	// Ignored while queued
	_ = repo.UpdateProgress(ctx, job.ID, 30)
	saved, _ := repo.FindByID(ctx, job.ID)
	if saved.Progress != 0 {
		t.Errorf("expected progress 0 for queued job, got %d", saved.Progress)
	}

	_, _ = repo.Claim(ctx, job.ID)
	_ = repo.UpdateProgress(ctx, job.ID, 40)
	_ = repo.UpdateProgress(ctx, job.ID, 20)

	saved, _ = repo.FindByID(ctx, job.ID)
	if saved.Progress != 40 {
		t.Errorf("expected progress 40, got %d", saved.Progress)
	}

	if err := repo.UpdateProgress(ctx, "missing", 10); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}
