package gpu

import "sync/atomic"

// Stats is a snapshot of context activity
type Stats struct {
	ProgramsCompiled uint64 `json:"programs_compiled"`
	ProgramsDeleted  uint64 `json:"programs_deleted"`
	TexturesCreated  uint64 `json:"textures_created"`
	TexturesDeleted  uint64 `json:"textures_deleted"`
	TextureUploads   uint64 `json:"texture_uploads"`
	Draws            uint64 `json:"draws"`
	Presents         uint64 `json:"presents"`
	Readbacks        uint64 `json:"readbacks"`
}

// Counters is embedded by backends to track Stats. Reads may happen from
// any goroutine.
type Counters struct {
	programsCompiled atomic.Uint64
	programsDeleted  atomic.Uint64
	texturesCreated  atomic.Uint64
	texturesDeleted  atomic.Uint64
	textureUploads   atomic.Uint64
	draws            atomic.Uint64
	presents         atomic.Uint64
	readbacks        atomic.Uint64
}

func (c *Counters) ProgramCompiled() { c.programsCompiled.Add(1) }
func (c *Counters) ProgramDeleted()  { c.programsDeleted.Add(1) }
func (c *Counters) TextureCreated()  { c.texturesCreated.Add(1) }
func (c *Counters) TextureDeleted()  { c.texturesDeleted.Add(1) }
func (c *Counters) TextureUploaded() { c.textureUploads.Add(1) }
func (c *Counters) Drew()            { c.draws.Add(1) }
func (c *Counters) Presented()       { c.presents.Add(1) }
func (c *Counters) ReadBack()        { c.readbacks.Add(1) }

// Snapshot returns the current counter values
func (c *Counters) Snapshot() Stats {
	return Stats{
		ProgramsCompiled: c.programsCompiled.Load(),
		ProgramsDeleted:  c.programsDeleted.Load(),
		TexturesCreated:  c.texturesCreated.Load(),
		TexturesDeleted:  c.texturesDeleted.Load(),
		TextureUploads:   c.textureUploads.Load(),
		Draws:            c.draws.Load(),
		Presents:         c.presents.Load(),
		Readbacks:        c.readbacks.Load(),
	}
}
