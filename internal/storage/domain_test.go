package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/clinic-keeper/internal/ident"
)

// A small filing domain exercising every shape and action:
// folder -< file >-< tag, and locks pinning a folder or a file.

var (
	folderFiles = &Descriptor[*folder, *file]{Name: "files", Shape: BackToMany, OnDelete: Cascade,
		Reciprocal: func(f *file) Relation[*file, *folder] { return f.Folder }}
	folderLocks = &Descriptor[*folder, *lock]{Name: "locks", Shape: BackToMany, OnDelete: Restrict,
		Reciprocal: func(l *lock) Relation[*lock, *folder] { return l.Folder }}
	fileFolder = &Descriptor[*file, *folder]{Name: "folder", Shape: OneToMany, OnDelete: SetNull,
		Reciprocal: func(f *folder) Relation[*folder, *file] { return f.Files }}
	fileTags = &Descriptor[*file, *tag]{Name: "tags", Shape: ManyToMany, OnDelete: SetNull,
		Reciprocal: func(t *tag) Relation[*tag, *file] { return t.Files }}
	fileLocks = &Descriptor[*file, *lock]{Name: "locks", Shape: BackToMany, OnDelete: Restrict,
		Reciprocal: func(l *lock) Relation[*lock, *file] { return l.File }}
	tagFiles = &Descriptor[*tag, *file]{Name: "files", Shape: ManyToMany, OnDelete: SetNull,
		Reciprocal: func(f *file) Relation[*file, *tag] { return f.Tags }}
	lockFolder = &Descriptor[*lock, *folder]{Name: "folder", Shape: OneToMany, OnDelete: SetNull,
		Reciprocal: func(f *folder) Relation[*folder, *lock] { return f.Locks }}
	lockFile = &Descriptor[*lock, *file]{Name: "file", Shape: OneToMany, OnDelete: SetNull,
		Reciprocal: func(f *file) Relation[*file, *lock] { return f.Locks }}
)

type folder struct {
	Base
	Title string
	Files Relation[*folder, *file]
	Locks Relation[*folder, *lock]
}

func (f *folder) Links() []Link { return []Link{f.Files, f.Locks} }

func (f *folder) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		BaseRecord
		Title string `json:"title"`
	}{f.Record(), f.Title})
}

type file struct {
	Base
	Name   string
	Folder Relation[*file, *folder]
	Tags   Relation[*file, *tag]
	Locks  Relation[*file, *lock]
}

func (f *file) Links() []Link { return []Link{f.Folder, f.Tags, f.Locks} }

func (f *file) ResolveRelations() error { return ResolveAll(f.Folder, f.Tags) }

func (f *file) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		BaseRecord
		Name   string                   `json:"name"`
		Folder Relation[*file, *folder] `json:"folder"`
		Tags   Relation[*file, *tag]    `json:"tags"`
	}{f.Record(), f.Name, f.Folder, f.Tags})
}

type tag struct {
	Base
	Label string
	Files Relation[*tag, *file]
}

func (t *tag) Links() []Link { return []Link{t.Files} }

func (t *tag) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		BaseRecord
		Label string `json:"label"`
	}{t.Record(), t.Label})
}

type lock struct {
	Base
	Folder Relation[*lock, *folder]
	File   Relation[*lock, *file]
}

func (l *lock) Links() []Link { return []Link{l.Folder, l.File} }

func (l *lock) ResolveRelations() error { return ResolveAll(l.Folder, l.File) }

func (l *lock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		BaseRecord
		Folder Relation[*lock, *folder] `json:"folder"`
		File   Relation[*lock, *file]   `json:"file"`
	}{l.Record(), l.Folder, l.File})
}

type world struct {
	alloc   *ident.Allocator
	folders *Repository[*folder]
	files   *Repository[*file]
	tags    *Repository[*tag]
	locks   *Repository[*lock]
	agg     *Aggregate
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{alloc: ident.New()}
	log := zaptest.NewLogger(t)
	w.folders = NewRepository("folders", w.alloc, w.decodeFolder, WithLogger(log))
	w.files = NewRepository("files", w.alloc, w.decodeFile, WithLogger(log))
	w.tags = NewRepository("tags", w.alloc, w.decodeTag, WithLogger(log))
	w.locks = NewRepository("locks", w.alloc, w.decodeLock, WithLogger(log))
	w.agg = NewAggregate(log, w.folders, w.files, w.tags, w.locks)
	return w
}

func (w *world) buildFolder(id ident.ID, title string) (*folder, error) {
	f := &folder{Base: NewBase(id), Title: title}
	var err error
	if f.Files, err = folderFiles.Empty(w.files, id); err != nil {
		return nil, err
	}
	if f.Locks, err = folderLocks.Empty(w.locks, id); err != nil {
		return nil, err
	}
	return f, nil
}

func (w *world) decodeFolder(rec *Record) (*folder, error) {
	return w.buildFolder(rec.ID(), rec.String("title"))
}

func (w *world) decodeFile(rec *Record) (*file, error) {
	f := &file{Base: NewBase(rec.ID()), Name: rec.String("name")}
	f.Folder = fileFolder.Decode(rec, w.folders)
	f.Tags = fileTags.Decode(rec, w.tags)
	var err error
	if f.Locks, err = fileLocks.Empty(w.locks, rec.ID()); err != nil {
		return nil, err
	}
	return f, rec.Err()
}

func (w *world) decodeTag(rec *Record) (*tag, error) {
	t := &tag{Base: NewBase(rec.ID()), Label: rec.String("label")}
	var err error
	if t.Files, err = tagFiles.Empty(w.files, rec.ID()); err != nil {
		return nil, err
	}
	return t, nil
}

func (w *world) decodeLock(rec *Record) (*lock, error) {
	l := &lock{Base: NewBase(rec.ID())}
	l.Folder = lockFolder.Decode(rec, w.folders)
	l.File = lockFile.Decode(rec, w.files)
	return l, rec.Err()
}

func (w *world) folder(t *testing.T, title string) *folder {
	t.Helper()
	f, err := w.folders.Create(func(id ident.ID) (*folder, error) { return w.buildFolder(id, title) })
	require.NoError(t, err)
	return f
}

func (w *world) file(t *testing.T, name string, in ident.ID, tags ...ident.ID) *file {
	t.Helper()
	f, err := w.files.Create(func(id ident.ID) (*file, error) {
		f := &file{Base: NewBase(id), Name: name}
		var err error
		if f.Folder, err = fileFolder.New(w.folders, id, in); err != nil {
			return nil, err
		}
		if f.Tags, err = fileTags.New(w.tags, id, tags...); err != nil {
			return nil, err
		}
		if f.Locks, err = fileLocks.Empty(w.locks, id); err != nil {
			return nil, err
		}
		return f, CheckTargets(f.Folder, f.Tags)
	})
	require.NoError(t, err)
	require.NoError(t, f.ResolveRelations())
	return f
}

func (w *world) tag(t *testing.T, label string) *tag {
	t.Helper()
	tg, err := w.tags.Create(func(id ident.ID) (*tag, error) {
		tg := &tag{Base: NewBase(id), Label: label}
		var err error
		tg.Files, err = tagFiles.Empty(w.files, id)
		return tg, err
	})
	require.NoError(t, err)
	return tg
}

func (w *world) lock(t *testing.T, onFolder, onFile ident.ID) *lock {
	t.Helper()
	l, err := w.locks.Create(func(id ident.ID) (*lock, error) {
		l := &lock{Base: NewBase(id)}
		var err error
		if l.Folder, err = lockFolder.New(w.folders, id, onFolder); err != nil {
			return nil, err
		}
		if l.File, err = lockFile.New(w.files, id, onFile); err != nil {
			return nil, err
		}
		return l, CheckTargets(l.Folder, l.File)
	})
	require.NoError(t, err)
	require.NoError(t, l.ResolveRelations())
	return l
}
