package domain

type Camera struct {
	ID          int64
	Name        string
	Description string
	Tags        []Tag
}

type Tag struct {
	ID           int64
	Name         string
	IsServiceTag bool
	Description  string
}

type MediaType struct {
	ID        int64
	TypeName  string
	Extension string
}

// ThumbnailSpec is one derivative produced for every photo. Params are sent
// verbatim to the processor next to the output filename.
type ThumbnailSpec struct {
	ID          int64
	Name        string
	Description string
	Params      map[string]any
}

// Command builds the processor instruction for this spec.
func (s ThumbnailSpec) Command() JobCommand {
	cmd := make(JobCommand, len(s.Params)+1)
	for k, v := range s.Params {
		cmd[k] = v
	}
	cmd[CommandFilename] = s.Name
	return cmd
}

// Clone returns a copy that shares nothing with s.
func (s ThumbnailSpec) Clone() ThumbnailSpec {
	out := s
	if s.Params != nil {
		out.Params = make(map[string]any, len(s.Params))
		for k, v := range s.Params {
			out.Params[k] = v
		}
	}
	return out
}
