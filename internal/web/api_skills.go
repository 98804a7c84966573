package web

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepserve/deepserve/internal/skills"
	"github.com/deepserve/deepserve/pkg/models"
)

// maxSkillZipBytes bounds an uploaded skill package.
const maxSkillZipBytes = 50 << 20

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	records, err := h.cfg.Repo.ListSkills(r.Context(), currentUser(r).IsAdmin)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"skills": records})
}

// installSkill accepts a ZIP containing SKILL.md plus resources, unpacks it
// into the skills directory under the frontmatter name and registers it.
func (h *Handler) installSkill(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSkillZipBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		h.jsonError(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, err)
		return
	}
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		h.jsonError(w, "not a valid zip archive", http.StatusBadRequest)
		return
	}

	skill, prefix, err := skillFromArchive(archive)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	dest := filepath.Join(h.cfg.Skills.Root(), skill.Name)
	if err := extractSkill(archive, prefix, dest); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	record := &models.SkillRecord{
		Name:        skill.Name,
		Description: skill.Description,
		Version:     skill.Version,
		Author:      skill.Author,
		Tags:        skill.Tags,
		Path:        dest,
		IsActive:    true,
	}
	if err := h.cfg.Repo.UpsertSkill(r.Context(), record); err != nil {
		h.writeError(w, err)
		return
	}
	h.cfg.Skills.Invalidate()
	h.cfg.Perms.InvalidateAll()

	h.jsonStatus(w, http.StatusCreated, record)
}

func (h *Handler) setSkillActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := h.cfg.Repo.SetSkillActive(r.Context(), name, active); err != nil {
			h.writeError(w, err)
			return
		}
		h.cfg.Skills.Invalidate()
		h.cfg.Perms.InvalidateAll()
		h.jsonResponse(w, map[string]any{"name": name, "is_active": active})
	}
}

// skillFromArchive locates and parses SKILL.md. The manifest may sit at the
// archive root or inside a single top-level directory; the directory prefix
// is returned so extraction can strip it.
func skillFromArchive(archive *zip.Reader) (*skills.Skill, string, error) {
	for _, f := range archive.File {
		name := f.Name
		var prefix string
		if idx := strings.IndexByte(name, '/'); idx >= 0 {
			prefix, name = f.Name[:idx+1], f.Name[idx+1:]
		}
		if name != skills.SkillFilename {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", f.Name, err)
		}
		skill, err := skills.ParseSkill(data, "")
		if err != nil {
			return nil, "", err
		}
		return skill, prefix, nil
	}
	return nil, "", fmt.Errorf("archive contains no %s", skills.SkillFilename)
}

// extractSkill unpacks the archive under dest, stripping the top-level
// prefix and rejecting traversal.
func extractSkill(archive *zip.Reader, prefix, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, f := range archive.File {
		name := strings.TrimPrefix(f.Name, prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		clean := filepath.Clean(name)
		if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return fmt.Errorf("archive entry escapes skill directory: %s", f.Name)
		}

		target := filepath.Join(dest, clean)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
