package archive

import "fmt"

// PathTraversalError signals an archive entry whose normalized path
// escapes the extraction root.
type PathTraversalError struct{ Entry string }

func (e PathTraversalError) Error() string {
	return "archive entry escapes extraction root: " + e.Entry
}

// IsPathTraversal reports whether err indicates an unsafe entry path.
func IsPathTraversal(err error) bool {
	_, ok := err.(PathTraversalError)
	return ok
}

// tooLargeError signals an archive over the configured size limit.
type tooLargeError struct{ size, limit int64 }

func (e tooLargeError) Error() string {
	return fmt.Sprintf("archive too large: %d bytes exceeds limit %d", e.size, e.limit)
}

// IsArchiveTooLarge reports whether err indicates an oversized archive.
func IsArchiveTooLarge(err error) bool {
	_, ok := err.(tooLargeError)
	return ok
}

// invalidArchiveError signals a blob that is not a well-formed tar
// stream or carries entry types a model archive never contains.
type invalidArchiveError struct{ msg string }

func (e invalidArchiveError) Error() string { return "invalid archive: " + e.msg }

// IsInvalidArchive reports whether err indicates a malformed archive.
func IsInvalidArchive(err error) bool {
	_, ok := err.(invalidArchiveError)
	return ok
}
