// Package export writes a query result to a delimited text file, locally or
// to S3. Destinations ending in .gz or .zst are compressed.
package export

import (
	"context"
	"fmt"
	"io"
	"log"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"surveysync/internal/dataset"
)

// Options control the file format.
type Options struct {
	// Delimiter separates fields; ',' when zero.
	Delimiter rune
	// Encoding is a text encoding label; UTF-8 when empty.
	Encoding string
	// NullText is written for NULL cells; empty by default.
	NullText string
	// NoHeader omits the column name row.
	NoHeader bool

	S3 S3Options
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

func (o Options) validate() error {
	d := o.delimiter()
	if d == '"' || d == '\r' || d == '\n' || d == utf8.RuneError || !utf8.ValidRune(d) {
		return fmt.Errorf("export: invalid delimiter %q", d)
	}
	return nil
}

// Exporter writes tables to one destination.
type Exporter struct {
	dest destination
	opts Options
	enc  encoding.Encoding
}

// New validates dest and opts. dest is a local path, whose directory must
// exist when Export runs, or s3://bucket/key.
func New(dest string, opts Options) (*Exporter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	d, err := parseDestination(dest)
	if err != nil {
		return nil, err
	}
	enc, err := lookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}
	return &Exporter{dest: d, opts: opts, enc: enc}, nil
}

// Destination returns the configured destination as given.
func (e *Exporter) Destination() string { return e.dest.raw }

// Export writes t and returns the number of data rows. The destination is
// only replaced once every row was written.
func (e *Exporter) Export(ctx context.Context, t *dataset.Table) (int, error) {
	sk, err := e.openSink()
	if err != nil {
		return 0, err
	}
	n, err := e.write(sk, t)
	if err != nil {
		sk.Abort()
		return n, err
	}
	if err := sk.Commit(ctx); err != nil {
		return n, err
	}
	log.Printf("export: wrote %d rows to %s", n, e.dest.raw)
	return n, nil
}

func (e *Exporter) openSink() (sink, error) {
	if !e.dest.isS3() {
		return newFileSink(e.dest.key)
	}
	_, ct, err := e.dest.compressor(io.Discard)
	if err != nil {
		return nil, err
	}
	return &s3Sink{bucket: e.dest.bucket, key: e.dest.key, contentType: ct, opts: e.opts.S3}, nil
}

// write layers compression and text encoding over sk, then the CSV writer.
func (e *Exporter) write(sk sink, t *dataset.Table) (int, error) {
	cw, _, err := e.dest.compressor(sk)
	if err != nil {
		return 0, err
	}
	var w io.WriteCloser = cw
	if e.enc != nil {
		w = transform.NewWriter(cw, e.enc.NewEncoder())
	}
	n, err := WriteCSV(w, t, e.opts)
	if err != nil {
		return n, err
	}
	if e.enc != nil {
		if err := w.Close(); err != nil {
			return n, fmt.Errorf("export: encode %s: %w", e.opts.Encoding, err)
		}
	}
	if err := cw.Close(); err != nil {
		return n, fmt.Errorf("export: compress: %w", err)
	}
	return n, nil
}
