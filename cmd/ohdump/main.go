// Command ohdump inspects object headers in a storage file: it prints the
// prefix fields, walks the message table across every chunk, and optionally
// verifies structural integrity.
//
// Usage:
//
//	ohdump [--addr N] [--json] [--check] [--profile FILE] FILE
package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
	"github.com/robert-malhotra/go-ohdr/ohdr"
)

// profile holds defaults loadable from a YAML file, so repeated inspection
// of the same layout does not need the full flag set every time.
type profile struct {
	Addr       string `yaml:"addr"`
	OffsetSize int    `yaml:"offset_size"`
	LengthSize int    `yaml:"length_size"`
	JSON       bool   `yaml:"json"`
	Check      bool   `yaml:"check"`
}

type messageDump struct {
	Index         int    `json:"index"`
	Type          string `json:"type"`
	TypeID        uint16 `json:"typeId"`
	Flags         uint8  `json:"flags"`
	Chunk         int    `json:"chunk"`
	Size          int    `json:"size"`
	CreationIndex uint16 `json:"creationIndex,omitempty"`
}

type headerDump struct {
	Address   uint64        `json:"address"`
	Version   uint8         `json:"version"`
	Flags     uint8         `json:"flags"`
	LinkCount uint32        `json:"linkCount"`
	Chunks    []chunkDump   `json:"chunks"`
	Messages  []messageDump `json:"messages"`
}

type chunkDump struct {
	Index   int    `json:"index"`
	Address uint64 `json:"address"`
	Size    int    `json:"size"`
}

func main() {
	cmd := &cli.Command{
		Name:      "ohdump",
		Usage:     "dump object headers from a storage file",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "header address (decimal or 0x-prefixed hex)",
				Value: "0x8",
			},
			&cli.IntFlag{
				Name:  "offset-size",
				Usage: "width of stored addresses in bytes",
				Value: 8,
			},
			&cli.IntFlag{
				Name:  "length-size",
				Usage: "width of stored lengths in bytes",
				Value: 8,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "emit JSON instead of text",
			},
			&cli.BoolFlag{
				Name:  "check",
				Usage: "verify structural integrity and report",
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "YAML file with default settings",
			},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ohdump:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one FILE argument")
	}
	path := cmd.Args().First()

	addrStr := cmd.String("addr")
	sizes := binary.Sizes{
		OffsetSize: int(cmd.Int("offset-size")),
		LengthSize: int(cmd.Int("length-size")),
	}
	asJSON := cmd.Bool("json")
	check := cmd.Bool("check")

	if profPath := cmd.String("profile"); profPath != "" {
		var p profile
		raw, err := os.ReadFile(profPath)
		if err != nil {
			return fmt.Errorf("reading profile: %w", err)
		}
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("parsing profile: %w", err)
		}
		if p.Addr != "" && !cmd.IsSet("addr") {
			addrStr = p.Addr
		}
		if p.OffsetSize != 0 && !cmd.IsSet("offset-size") {
			sizes.OffsetSize = p.OffsetSize
		}
		if p.LengthSize != 0 && !cmd.IsSet("length-size") {
			sizes.LengthSize = p.LengthSize
		}
		asJSON = asJSON || p.JSON
		check = check || p.Check
	}

	addr, err := parseAddr(addrStr)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	store := ohdr.NewFileStore(f, nil, uint64(info.Size()))
	h, err := ohdr.Open(store, ohdr.NopCache{}, addr,
		ohdr.WithReadOnly(),
		ohdr.WithSizes(sizes),
	)
	if err != nil {
		return fmt.Errorf("opening header at 0x%x: %w", addr, err)
	}
	defer h.Release()

	if check {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("integrity check: %w", err)
		}
		fmt.Println("integrity check: ok")
	}

	dump := buildDump(h)
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	}
	printDump(dump)
	return nil
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	addr, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

func buildDump(h *ohdr.Header) headerDump {
	d := headerDump{
		Address:   h.Address(),
		Version:   h.Version(),
		Flags:     h.Flags(),
		LinkCount: h.LinkCount(),
	}
	for ci := 0; ci < h.NumChunks(); ci++ {
		addr, _ := h.ChunkAddress(ci)
		size, _ := h.ChunkSize(ci)
		d.Chunks = append(d.Chunks, chunkDump{Index: ci, Address: addr, Size: size})
	}
	for i, m := range h.Messages(ohdr.TypeAny) {
		d.Messages = append(d.Messages, messageDump{
			Index:         i,
			Type:          typeName(m.Type()),
			TypeID:        uint16(m.Type()),
			Flags:         m.Flags(),
			Chunk:         m.ChunkIndex(),
			Size:          m.RawSize(),
			CreationIndex: m.CreationIndex(),
		})
	}
	return d
}

func printDump(d headerDump) {
	fmt.Printf("object header at 0x%x\n", d.Address)
	fmt.Printf("  version:    %d\n", d.Version)
	fmt.Printf("  flags:      0x%02x\n", d.Flags)
	fmt.Printf("  link count: %d\n", d.LinkCount)
	fmt.Printf("  chunks:     %d\n", len(d.Chunks))
	for _, c := range d.Chunks {
		fmt.Printf("    chunk %d: addr=0x%x size=%d\n", c.Index, c.Address, c.Size)
	}
	fmt.Printf("  messages:   %d\n", len(d.Messages))
	for _, m := range d.Messages {
		fmt.Printf("    [%d] %s (0x%04x) flags=0x%02x chunk=%d size=%d\n",
			m.Index, m.Type, m.TypeID, m.Flags, m.Chunk, m.Size)
	}
}

var typeNames = map[ohdr.MessageType]string{
	ohdr.TypeNil:                "nil",
	ohdr.TypeDataspace:          "dataspace",
	ohdr.TypeLinkInfo:           "link info",
	ohdr.TypeDatatype:           "datatype",
	ohdr.TypeFillValueOld:       "fill value (old)",
	ohdr.TypeFillValue:          "fill value",
	ohdr.TypeLink:               "link",
	ohdr.TypeExternalDataFiles:  "external data files",
	ohdr.TypeDataLayout:         "data layout",
	ohdr.TypeGroupInfo:          "group info",
	ohdr.TypeFilterPipeline:     "filter pipeline",
	ohdr.TypeAttribute:          "attribute",
	ohdr.TypeObjectComment:      "comment",
	ohdr.TypeObjectModTimeOld:   "mod time (old)",
	ohdr.TypeSharedMessageTable: "shared message table",
	ohdr.TypeContinuation:       "continuation",
	ohdr.TypeSymbolTable:        "symbol table",
	ohdr.TypeObjectModTime:      "mod time",
	ohdr.TypeBTreeKValues:       "btree k values",
	ohdr.TypeDriverInfo:         "driver info",
	ohdr.TypeAttributeInfo:      "attribute info",
	ohdr.TypeRefCount:           "ref count",
	ohdr.TypeFreeSpaceInfo:      "free space info",
}

func typeName(t ohdr.MessageType) string {
	return cmp.Or(typeNames[t], fmt.Sprintf("unknown-0x%04x", uint16(t)))
}
