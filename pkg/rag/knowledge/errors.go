package knowledge

import "errors"

var (
	// ErrIndexEmpty is returned by searches against an index with no chunks.
	ErrIndexEmpty = errors.New("knowledge index is empty")
	// ErrIndexBuild wraps every failure of RebuildOrExtend.
	ErrIndexBuild = errors.New("knowledge index build failed")
	// ErrNoDocuments means none of the given paths produced indexable text.
	ErrNoDocuments = errors.New("no indexable documents")
)
