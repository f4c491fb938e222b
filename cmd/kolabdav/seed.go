package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cyp0633/kolabdav/calendar"
	"github.com/cyp0633/kolabdav/card"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/storage"
	"github.com/cyp0633/kolabdav/storage/memory"
)

// folderFile optionally describes a seeded folder.
const folderFile = "folder.yaml"

type folderMeta struct {
	DisplayName string `yaml:"display_name"`
	Color       string `yaml:"color"`
	Default     bool   `yaml:"default"`
	UID         string `yaml:"uid"`
}

// seed loads dir into store. The layout is <type>/<folder>/<object>, where
// type is event, task or contact and objects are .ics or .vcf documents.
// It returns the number of objects stored.
func seed(ctx context.Context, store *memory.Store, dir string, logger *slog.Logger) (int, error) {
	count := 0
	for _, t := range []storage.FolderType{storage.FolderEvent, storage.FolderTask, storage.FolderContact} {
		entries, err := os.ReadDir(filepath.Join(dir, string(t)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return count, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			n, err := seedFolder(ctx, store, t, filepath.Join(dir, string(t), e.Name()), logger)
			count += n
			if err != nil {
				return count, err
			}
		}
	}
	return count, nil
}

func seedFolder(ctx context.Context, store *memory.Store, t storage.FolderType, dir string, logger *slog.Logger) (int, error) {
	var meta folderMeta
	raw, err := os.ReadFile(filepath.Join(dir, folderFile))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &meta); err != nil {
			return 0, fmt.Errorf("parse %s: %w", filepath.Join(dir, folderFile), err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return 0, err
	}

	var opts []memory.FolderOption
	if meta.DisplayName != "" {
		opts = append(opts, memory.WithDisplayName(meta.DisplayName))
	}
	if meta.Color != "" {
		opts = append(opts, memory.WithColor(strings.TrimPrefix(meta.Color, "#")))
	}
	if meta.Default {
		opts = append(opts, memory.AsDefault())
	}
	if meta.UID != "" {
		opts = append(opts, memory.WithMetadata(map[string]string{storage.MetadataSharedUID: meta.UID}))
	}
	folder := store.AddFolder(filepath.Base(dir), t, opts...)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() || e.Name() == folderFile {
			continue
		}
		path := filepath.Join(dir, e.Name())
		rec, err := parseSeed(t, path)
		if err != nil {
			logger.Warn("skipping seed object", "path", path, "error", err)
			continue
		}
		if err := folder.Save(ctx, rec, ""); err != nil {
			return count, fmt.Errorf("store %s: %w", path, err)
		}
		count++
	}
	logger.Debug("seeded folder", "folder", folder.Name(), "type", t, "objects", count)
	return count, nil
}

func parseSeed(t storage.FolderType, path string) (*record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case t == storage.FolderContact && ext == ".vcf":
		return card.Parse(data, "")
	case t != storage.FolderContact && ext == ".ics":
		rec, err := calendar.Parse(data, "")
		if err != nil {
			return nil, err
		}
		if string(rec.Type) != string(t) {
			return nil, fmt.Errorf("%s object in %s folder", rec.Type, t)
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unexpected file type %q", ext)
	}
}
