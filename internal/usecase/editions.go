package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ArticlesPipeline/internal/domain"
)

// Publish attaches id to an edition. An empty code publishes into the next free edition of today.
// When the edition or the edition index cannot be written the article is compensated back to its
// previous state and the error wraps domain.ErrPublishFailed.
func (m *Manager) Publish(ctx context.Context, id, code, name string) (domain.Edition, error) {
	m.editionMu.Lock()
	defer m.editionMu.Unlock()

	now := m.now().UTC()
	if strings.TrimSpace(code) == "" {
		next, err := m.NextEditionCode(ctx, now)
		if err != nil {
			return domain.Edition{}, err
		}
		code = next
	}
	if _, _, err := domain.ParseEditionCode(code); err != nil {
		return domain.Edition{}, fmt.Errorf("%w: %v", domain.ErrInvalidTransition, err)
	}

	current, err := m.registry.Lookup(ctx, id)
	if err != nil {
		return domain.Edition{}, err
	}
	previous := current.Header.State
	if domain.IsProtected(previous) {
		if current.EditionCode() != code {
			return domain.Edition{}, fmt.Errorf("%w: %s is already in edition %s", domain.ErrInvalidTransition, id, current.EditionCode())
		}
		edition, err := m.repo.Edition(ctx, code)
		if err == nil && edition.Contains(id) {
			return edition, nil
		}
		previous = domain.StateClassified
	}

	article, err := m.advance(ctx, id, domain.StatePublished, "publisher", SectionData{
		Publication: &domain.Publication{
			EditionCode: code,
			EditionName: name,
			PublishedAt: now,
			Status:      domain.PublicationPreview,
		},
	})
	if err != nil {
		return domain.Edition{}, err
	}

	edition, err := m.repo.Edition(ctx, code)
	created := errors.Is(err, domain.ErrNotFound)
	switch {
	case created:
		edition = domain.NewEdition(code, name, now)
	case err != nil:
		m.compensatePublish(ctx, id, previous, "load edition failed")
		return domain.Edition{}, fmt.Errorf("%w: load edition %s: %w", domain.ErrPublishFailed, code, err)
	}

	edition.Append(domain.Snapshot(article), now)
	if err := m.repo.SaveEdition(ctx, edition); err != nil {
		m.compensatePublish(ctx, id, previous, "save edition failed")
		return domain.Edition{}, fmt.Errorf("%w: %w", domain.ErrPublishFailed, err)
	}

	if err := m.upsertMeta(ctx, edition, now); err != nil {
		if edition.Remove(id, now) {
			m.detachAfterMetaFailure(ctx, edition, id, created)
		}
		m.compensatePublish(ctx, id, previous, "save meta failed")
		return domain.Edition{}, fmt.Errorf("%w: %w", domain.ErrPublishFailed, err)
	}

	m.logger.Info("article published", "article_id", id, "edition_code", code, "members", len(edition.ArticleIDs))
	return edition, nil
}

// detachAfterMetaFailure drops id from an edition the index never recorded. An edition created
// by this publish and left empty is deleted instead of saved.
func (m *Manager) detachAfterMetaFailure(ctx context.Context, edition domain.Edition, id string, created bool) {
	var err error
	if created && len(edition.ArticleIDs) == 0 {
		err = m.repo.DeleteEdition(ctx, edition.Code)
	} else {
		err = m.repo.SaveEdition(ctx, edition)
	}
	if err != nil {
		m.logger.Error("detach article from edition after meta failure", "article_id", id,
			"edition_code", edition.Code, "error", err)
	}
}

func (m *Manager) compensatePublish(ctx context.Context, id string, target domain.State, reason string) {
	if target == "" || domain.IsProtected(target) {
		target = domain.StateClassified
	}
	if err := m.Compensate(ctx, id, target, reason); err != nil {
		m.logger.Error("publish compensation incomplete", "article_id", id, "error", err)
	}
}

// Release makes an edition visible. Member articles keep state PUBLISHED and get
// publication.status released.
func (m *Manager) Release(ctx context.Context, code string) (domain.Edition, error) {
	m.editionMu.Lock()
	defer m.editionMu.Unlock()

	edition, err := m.repo.Edition(ctx, code)
	if err != nil {
		return domain.Edition{}, fmt.Errorf("load edition %s: %w", code, err)
	}

	now := m.now().UTC()
	if edition.Status != domain.EditionReleased {
		if err := m.repo.MarkEditionReleased(ctx, code, now); err != nil {
			return domain.Edition{}, err
		}
		edition.Status = domain.EditionReleased
		edition.ReleasedAt = &now
		edition.UpdatedAt = now
		if err := m.upsertMeta(ctx, edition, now); err != nil {
			return domain.Edition{}, err
		}
	}

	var errs []error
	for _, id := range edition.ArticleIDs {
		article, err := m.registry.Lookup(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
			continue
		}
		if !domain.IsProtected(article.Header.State) || article.EditionCode() != code {
			errs = append(errs, fmt.Errorf("release %s: %w: %s in edition %q", id,
				domain.ErrInvalidTransition, article.Header.State, article.EditionCode()))
			continue
		}
		if article.Publication.Status == domain.PublicationReleased {
			continue
		}
		from := article.Header.State
		updated, err := m.registry.UpdateState(ctx, id, from, actorRelease, func(a *domain.Article) error {
			if a.Header.State != from || a.Publication == nil || a.Publication.EditionCode != code {
				return fmt.Errorf("%w: %s left edition %s", domain.ErrInvalidTransition, id, code)
			}
			a.Publication.Status = domain.PublicationReleased
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
			continue
		}
		m.committed(ctx, updated, from, actorRelease, false)
	}

	m.logger.Info("edition released", "edition_code", code, "members", len(edition.ArticleIDs), "failures", len(errs))
	return edition, errors.Join(errs...)
}

// Unpublish detaches one article from its edition and returns it to CLASSIFIED.
func (m *Manager) Unpublish(ctx context.Context, id, actor string) (domain.Article, error) {
	m.editionMu.Lock()
	defer m.editionMu.Unlock()

	article, err := m.registry.Lookup(ctx, id)
	if err != nil {
		return domain.Article{}, err
	}
	if !domain.IsProtected(article.Header.State) {
		return domain.Article{}, fmt.Errorf("%w: %s is not published", domain.ErrInvalidTransition, id)
	}

	now := m.now().UTC()
	if code := article.EditionCode(); code != "" {
		edition, err := m.repo.Edition(ctx, code)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return domain.Article{}, fmt.Errorf("load edition %s: %w", code, err)
		default:
			if edition.Remove(id, now) {
				if err := m.repo.SaveEdition(ctx, edition); err != nil {
					return domain.Article{}, err
				}
				if err := m.upsertMeta(ctx, edition, now); err != nil {
					return domain.Article{}, err
				}
			}
		}
	}

	return m.revertToClassified(ctx, id, actor)
}

// DeleteEdition removes an edition, returns every member to CLASSIFIED with its classification
// intact, and renumbers the later editions of the same day so sequences stay contiguous.
func (m *Manager) DeleteEdition(ctx context.Context, code string) error {
	m.editionMu.Lock()
	defer m.editionMu.Unlock()

	meta, err := m.repo.Meta(ctx)
	if err != nil {
		return fmt.Errorf("load meta: %w", err)
	}
	edition, err := m.repo.Edition(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if _, ok := meta.Find(code); !ok {
				return fmt.Errorf("edition %s: %w", code, domain.ErrNotFound)
			}
		} else {
			return fmt.Errorf("load edition %s: %w", code, err)
		}
	}

	now := m.now().UTC()
	later := domain.LaterEditions(meta, code)

	meta.Remove(code, now)
	if err := m.repo.SaveMeta(ctx, meta); err != nil {
		return err
	}
	if err := m.repo.DeleteEdition(ctx, code); err != nil {
		return err
	}

	var errs []error
	for _, id := range edition.ArticleIDs {
		article, err := m.registry.Lookup(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("revert %s: %w", id, err))
			continue
		}
		if article.EditionCode() != code {
			continue
		}
		if _, err := m.revertToClassified(ctx, id, actorDelete); err != nil {
			errs = append(errs, err)
		}
	}

	for _, oldCode := range later {
		if err := m.shiftEdition(ctx, &meta, oldCode, now); err != nil {
			errs = append(errs, err)
			break
		}
	}

	m.logger.Info("edition deleted", "edition_code", code, "members", len(edition.ArticleIDs),
		"renumbered", len(later), "failures", len(errs))
	return errors.Join(errs...)
}

// shiftEdition moves an edition one sequence number down and repoints its members.
func (m *Manager) shiftEdition(ctx context.Context, meta *domain.Meta, oldCode string, now time.Time) error {
	newCode, err := domain.ShiftEditionCode(oldCode)
	if err != nil {
		return err
	}
	edition, err := m.repo.Edition(ctx, oldCode)
	if err != nil {
		return fmt.Errorf("load edition %s: %w", oldCode, err)
	}

	edition.Code = newCode
	if edition.Name == oldCode {
		edition.Name = newCode
	}
	edition.UpdatedAt = now
	if err := m.repo.SaveEdition(ctx, edition); err != nil {
		return err
	}
	if err := m.repo.DeleteEdition(ctx, oldCode); err != nil {
		return err
	}
	meta.Remove(oldCode, now)
	meta.Upsert(edition.Summary(), now)
	if err := m.repo.SaveMeta(ctx, *meta); err != nil {
		return err
	}

	var errs []error
	for _, id := range edition.ArticleIDs {
		article, err := m.registry.Lookup(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("renumber %s: %w", id, err))
			continue
		}
		from := article.Header.State
		updated, err := m.registry.Save(ctx, id, func(a *domain.Article) error {
			if a.Publication != nil && a.Publication.EditionCode == oldCode {
				a.Publication.EditionCode = newCode
				a.Publication.EditionName = edition.Name
			}
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("renumber %s: %w", id, err))
			continue
		}
		m.committed(ctx, updated, from, actorRenumber, false)
	}
	m.logger.Info("edition renumbered", "from", oldCode, "to", newCode)
	return errors.Join(errs...)
}

func (m *Manager) revertToClassified(ctx context.Context, id, actor string) (domain.Article, error) {
	var from domain.State
	updated, err := m.registry.UpdateState(ctx, id, domain.StateClassified, actor, func(a *domain.Article) error {
		from = a.Header.State
		a.Publication = nil
		return nil
	})
	if err != nil {
		return domain.Article{}, fmt.Errorf("revert %s: %w", id, err)
	}
	m.committed(ctx, updated, from, actor, false)
	return updated, nil
}

func (m *Manager) upsertMeta(ctx context.Context, edition domain.Edition, now time.Time) error {
	meta, err := m.repo.Meta(ctx)
	if err != nil {
		return fmt.Errorf("load meta: %w", err)
	}
	meta.Upsert(edition.Summary(), now)
	return m.repo.SaveMeta(ctx, meta)
}

// NextEditionCode returns the first free edition code for day.
func (m *Manager) NextEditionCode(ctx context.Context, day time.Time) (string, error) {
	meta, err := m.repo.Meta(ctx)
	if err != nil {
		return "", fmt.Errorf("load meta: %w", err)
	}
	return domain.NextEditionCode(meta, day), nil
}

// Edition loads one edition document.
func (m *Manager) Edition(ctx context.Context, code string) (domain.Edition, error) {
	return m.repo.Edition(ctx, code)
}

// Editions lists the edition index.
func (m *Manager) Editions(ctx context.Context) ([]domain.EditionSummary, error) {
	meta, err := m.repo.Meta(ctx)
	if err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}
	return meta.Editions, nil
}
