package toolops

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nsicore/nsi/internal/index"
	"github.com/nsicore/nsi/internal/parser"
	"github.com/nsicore/nsi/internal/verify"
)

// VerifyRunResult is the outcome of driving a changeset through the full
// verification pipeline.
type VerifyRunResult struct {
	Passed  bool
	Results []verify.StepResult
}

// RunVerification drives a changeset through VerifyPrepare, workflow
// execution against a materialized scratch working tree, and VerifyFinalize
// with the runner's verdict. Command and semantic steps always run.
// Agent-review and human-approval steps soft-fail with a warning finding
// (per internal/verify's step contract) rather than blocking the run: this
// service has no LLM provider or human-approval channel among its
// dependencies, so ReviewContext/AgentReview/HumanApprove are left unset.
// Wiring either is future work, tracked as an Open Question resolution.
func (s *Service) RunVerification(ctx context.Context, changesetID string) (VerifyRunResult, error) {
	prep, err := s.VerifyPrepare(ctx, changesetID)
	if err != nil {
		return VerifyRunResult{}, err
	}

	files, err := s.filesForVerify(ctx, prep.Changeset.ID)
	if err != nil {
		return VerifyRunResult{}, wrap(KindTransient, err)
	}

	wf, runner, cleanup, err := verify.Prepare(ctx, s.repo.Path(), changesetID, files)
	if err != nil {
		finalizeErr := s.VerifyFinalize(ctx, changesetID, false)

		return VerifyRunResult{}, wrap(KindTransient, errors.Join(fmt.Errorf("prepare verification: %w", err), finalizeErr))
	}
	defer cleanup()

	runner.SemanticContext = func(ctx context.Context) (verify.CheckContext, error) {
		return s.buildCheckContext(ctx, prep.Changeset.ID, files)
	}

	results := make(chan verify.StepResult, len(wf.Stages)+1)
	runResultCh := make(chan verify.RunResult, 1)

	go func() {
		runResultCh <- runner.Run(ctx, wf, results)
	}()

	// Drain so Run's send loop never blocks; the aggregated RunResult below
	// carries every StepResult already.
	for range results {
	}

	runResult := <-runResultCh

	if err := s.VerifyFinalize(ctx, changesetID, runResult.Passed); err != nil {
		return VerifyRunResult{}, err
	}

	return VerifyRunResult{Passed: runResult.Passed, Results: runResult.Results}, nil
}

// buildCheckContext loads each changed file's previously indexed symbols and
// freshly parsed symbols, plus any dependency cycles rooted at the
// changeset's affected symbols, for the semantic gates to compare against.
func (s *Service) buildCheckContext(ctx context.Context, changesetID uuid.UUID, files map[string][]byte) (verify.CheckContext, error) {
	before := make(map[string][]index.Symbol, len(files))
	after := make(map[string]parser.ParseResult, len(files))

	for path, content := range files {
		syms, err := s.index.SymbolsByFile(ctx, s.RepoID, path)
		if err != nil {
			return verify.CheckContext{}, fmt.Errorf("load prior symbols for %s: %w", path, err)
		}

		before[path] = syms

		parsed, parseErr := s.parsers.Parse(ctx, path, content)
		if parseErr != nil {
			continue
		}

		after[path] = parsed
	}

	seeds, err := s.changesets.GetAffectedSymbols(ctx, changesetID)
	if err != nil {
		return verify.CheckContext{}, fmt.Errorf("load affected symbols: %w", err)
	}

	cycles, err := s.index.FindDependencyCycles(ctx, s.RepoID, seeds)
	if err != nil {
		return verify.CheckContext{}, fmt.Errorf("find dependency cycles: %w", err)
	}

	return verify.CheckContext{
		RepoID:           s.RepoID.String(),
		BeforeByFile:     before,
		AfterByFile:      after,
		ChangedFiles:     files,
		DependencyCycles: cycles,
	}, nil
}

// filesForVerify loads a changeset's current files as the content map
// verify.Materialize overlays onto the pinned base commit.
func (s *Service) filesForVerify(ctx context.Context, changesetID uuid.UUID) (map[string][]byte, error) {
	changesetFiles, err := s.changesets.GetFiles(ctx, changesetID)
	if err != nil {
		return nil, fmt.Errorf("load changeset files: %w", err)
	}

	files := make(map[string][]byte, len(changesetFiles))

	for _, f := range changesetFiles {
		if f.ChangeType == "delete" {
			continue
		}

		files[f.Path] = f.Content
	}

	return files, nil
}
