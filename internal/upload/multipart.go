package upload

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"slices"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Multipart field names expected by the chunk endpoint.
const (
	fieldChunk       = "chunk"
	fieldFilename    = "filename"
	fieldChunkIndex  = "chunkIndex"
	fieldTotalChunks = "totalChunks"
)

// normalizeName returns the NFC form of name so that the server reassembles
// chunks under one filename regardless of the client's filesystem encoding.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

// chunkBody encodes one chunk as multipart/form-data and returns the body,
// its content type and the number of payload bytes copied from chunk.
// Destination fields are written in key order.
func chunkBody(
	filename string, index, total int, dest map[string]string, chunk io.Reader,
) ([]byte, string, int64, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(fieldChunk, filename)
	if err != nil {
		return nil, "", 0, fmt.Errorf("creating chunk part: %w", err)
	}

	n, err := io.Copy(part, chunk)
	if err != nil {
		return nil, "", n, fmt.Errorf("reading chunk %d: %w", index, err)
	}

	fields := [][2]string{
		{fieldFilename, filename},
		{fieldChunkIndex, strconv.Itoa(index)},
		{fieldTotalChunks, strconv.Itoa(total)},
	}

	for _, k := range slices.Sorted(maps.Keys(dest)) {
		fields = append(fields, [2]string{k, dest[k]})
	}

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", n, fmt.Errorf("writing field %s: %w", f[0], err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", n, fmt.Errorf("closing multipart body: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), n, nil
}
