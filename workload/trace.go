package workload

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseTrace reads a text trace. Each non-empty line is either
//
//	r <addr>
//	w <addr> <data> [mask]
//
// with hexadecimal operands (the 0x prefix is optional). Text after '#' is a
// comment. A write without a mask stores the full word.
func ParseTrace(r io.Reader) ([]Access, error) {
	var out []Access

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		access, err := parseAccess(fields)
		if err != nil {
			return nil, fmt.Errorf("trace line %d: %w", lineNo, err)
		}
		out = append(out, access)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	return out, nil
}

func parseAccess(fields []string) (Access, error) {
	switch strings.ToLower(fields[0]) {
	case "r":
		if len(fields) != 2 {
			return Access{}, fmt.Errorf("read takes 1 operand, got %d", len(fields)-1)
		}
		addr, err := parseHex(fields[1])
		if err != nil {
			return Access{}, err
		}
		return Read(addr), nil

	case "w":
		if len(fields) != 3 && len(fields) != 4 {
			return Access{}, fmt.Errorf("write takes 2 or 3 operands, got %d", len(fields)-1)
		}
		addr, err := parseHex(fields[1])
		if err != nil {
			return Access{}, err
		}
		data, err := parseHex(fields[2])
		if err != nil {
			return Access{}, err
		}
		mask := FullMask
		if len(fields) == 4 {
			mask, err = parseHex(fields[3])
			if err != nil {
				return Access{}, err
			}
		}
		return Write(addr, data, mask), nil

	default:
		return Access{}, fmt.Errorf("unknown operation %q", fields[0])
	}
}

func parseHex(s string) (uint32, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex operand %q: %w", s, err)
	}
	return uint32(v), nil
}

// WriteTrace emits accesses in the format ParseTrace reads.
func WriteTrace(w io.Writer, accesses []Access) error {
	bw := bufio.NewWriter(w)

	for _, a := range accesses {
		var err error
		switch a.Op {
		case OpRead:
			_, err = fmt.Fprintf(bw, "r 0x%08x\n", a.Addr)
		case OpWrite:
			_, err = fmt.Fprintf(bw, "w 0x%08x 0x%08x 0x%08x\n", a.Addr, a.Data, a.Mask)
		default:
			err = fmt.Errorf("unknown operation %d", a.Op)
		}
		if err != nil {
			return fmt.Errorf("failed to write trace: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	return nil
}
