package btree

import (
	"fmt"
	"io"
	"os"
)

// Device performs positioned whole-block I/O against the index file. It
// never seeks: every call addresses the file directly at block_id * 512,
// the way a block device would.
type Device struct {
	file *os.File
}

// openDevice opens an existing file for positioned I/O. The caller is
// responsible for having already validated the file's existence and
// header.
func openDevice(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &Device{file: f}, nil
}

// createDevice creates a new file for positioned I/O, failing if one
// already exists.
func createDevice(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &Device{file: f}, nil
}

// ReadBlock reads exactly BlockSize bytes at block_id * BlockSize. A
// short read is a fatal I/O error.
func (d *Device) ReadBlock(id BlockID) ([]byte, error) {
	buf := make([]byte, BlockSize)
	n, err := d.file.ReadAt(buf, int64(id)*BlockSize)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("btree: read block %d: %w", id, err)
	}
	if n != BlockSize {
		return nil, fmt.Errorf("btree: short read for block %d: read %d of %d bytes", id, n, BlockSize)
	}
	return buf, nil
}

// WriteBlock writes exactly BlockSize bytes at block_id * BlockSize,
// expanding the file as needed.
func (d *Device) WriteBlock(id BlockID, data []byte) error {
	if len(data) != BlockSize {
		return fmt.Errorf("btree: write block %d: buffer is %d bytes, want %d", id, len(data), BlockSize)
	}
	n, err := d.file.WriteAt(data, int64(id)*BlockSize)
	if err != nil {
		return fmt.Errorf("btree: write block %d: %w", id, err)
	}
	if n != BlockSize {
		return fmt.Errorf("btree: short write for block %d: wrote %d of %d bytes", id, n, BlockSize)
	}
	return nil
}

// Close closes the underlying file.
func (d *Device) Close() error {
	return d.file.Close()
}
