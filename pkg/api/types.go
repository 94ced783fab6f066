package api

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"
)

// FileInfo describes one file in a ListFiles reply.
type FileInfo struct {
	ID      uint64
	Type    uint16
	Size    uint64
	Sectors int
	Opened  bool
}

// FreeInfo is the Free reply.
type FreeInfo struct {
	FreeBytes   uint64
	FreeSectors uint32
	Files       int
}

// Struct encodes f. The id travels as a decimal string since struct numbers
// are doubles.
func (f FileInfo) Struct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":      structpb.NewStringValue(strconv.FormatUint(f.ID, 10)),
		"type":    structpb.NewNumberValue(float64(f.Type)),
		"size":    structpb.NewNumberValue(float64(f.Size)),
		"sectors": structpb.NewNumberValue(float64(f.Sectors)),
		"opened":  structpb.NewBoolValue(f.Opened),
	}}
}

// FileInfoFromStruct decodes a struct built by FileInfo.Struct.
func FileInfoFromStruct(s *structpb.Struct) (FileInfo, error) {
	fields := s.GetFields()
	id, err := strconv.ParseUint(fields["id"].GetStringValue(), 10, 64)
	if err != nil {
		return FileInfo{}, fmt.Errorf("bad file id: %w", err)
	}
	typ, ok := fields["type"].GetKind().(*structpb.Value_NumberValue)
	if !ok || typ.NumberValue < 0 || typ.NumberValue > 0xFFFF {
		return FileInfo{}, fmt.Errorf("bad file type for %d", id)
	}
	return FileInfo{
		ID:      id,
		Type:    uint16(typ.NumberValue),
		Size:    uint64(fields["size"].GetNumberValue()),
		Sectors: int(fields["sectors"].GetNumberValue()),
		Opened:  fields["opened"].GetBoolValue(),
	}, nil
}

// FileInfoList encodes a ListFiles reply.
func FileInfoList(files []FileInfo) *structpb.ListValue {
	values := make([]*structpb.Value, len(files))
	for i, f := range files {
		values[i] = structpb.NewStructValue(f.Struct())
	}
	return &structpb.ListValue{Values: values}
}

// FileInfosFromList decodes a ListFiles reply.
func FileInfosFromList(l *structpb.ListValue) ([]FileInfo, error) {
	files := make([]FileInfo, 0, len(l.GetValues()))
	for i, v := range l.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("entry %d is not a struct", i)
		}
		f, err := FileInfoFromStruct(s)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		files = append(files, f)
	}
	return files, nil
}

// Struct encodes f.
func (f FreeInfo) Struct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"free_bytes":   structpb.NewNumberValue(float64(f.FreeBytes)),
		"free_sectors": structpb.NewNumberValue(float64(f.FreeSectors)),
		"files":        structpb.NewNumberValue(float64(f.Files)),
	}}
}

// FreeInfoFromStruct decodes a Free reply.
func FreeInfoFromStruct(s *structpb.Struct) FreeInfo {
	fields := s.GetFields()
	return FreeInfo{
		FreeBytes:   uint64(fields["free_bytes"].GetNumberValue()),
		FreeSectors: uint32(fields["free_sectors"].GetNumberValue()),
		Files:       int(fields["files"].GetNumberValue()),
	}
}
