package brain

import (
	"context"
	"sort"

	"mnemosyne/internal/config"
	"mnemosyne/internal/domain"
	"mnemosyne/internal/errs"
	"mnemosyne/internal/llm"
)

type fakeNoteStore struct {
	notes map[string]domain.Note
}

func newFakeNoteStore(notes ...domain.Note) *fakeNoteStore {
	f := &fakeNoteStore{notes: map[string]domain.Note{}}
	for _, n := range notes {
		f.notes[n.ID] = n
	}
	return f
}

func (f *fakeNoteStore) GetNote(_ context.Context, _, id string) (domain.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return domain.Note{}, errs.ErrNotFound
	}
	return n, nil
}
func (f *fakeNoteStore) PutNote(_ context.Context, n domain.Note) error {
	f.notes[n.ID] = n
	return nil
}
func (f *fakeNoteStore) ListNotes(_ context.Context, ownerID string) ([]domain.Note, error) {
	out := make([]domain.Note, 0, len(f.notes))
	for _, n := range f.notes {
		if n.OwnerID == ownerID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (f *fakeNoteStore) ReplaceChunks(context.Context, string, []domain.NoteChunk) error { return nil }
func (f *fakeNoteStore) ChunksForNote(context.Context, string) ([]domain.NoteChunk, error) {
	return nil, nil
}

type fakeBrainStore struct {
	files         map[string]map[string]domain.BrainFile
	conversations map[string]domain.BrainConversation
	messages      map[string][]domain.BrainMessage
}

func newFakeBrainStore() *fakeBrainStore {
	return &fakeBrainStore{
		files:         map[string]map[string]domain.BrainFile{},
		conversations: map[string]domain.BrainConversation{},
		messages:      map[string][]domain.BrainMessage{},
	}
}

func (f *fakeBrainStore) GetBrainFile(_ context.Context, ownerID, fileKey string) (domain.BrainFile, error) {
	bf, ok := f.files[ownerID][fileKey]
	if !ok {
		return domain.BrainFile{}, errs.ErrNotFound
	}
	return bf, nil
}
func (f *fakeBrainStore) PutBrainFile(_ context.Context, bf domain.BrainFile) error {
	if f.files[bf.OwnerID] == nil {
		f.files[bf.OwnerID] = map[string]domain.BrainFile{}
	}
	f.files[bf.OwnerID][bf.FileKey] = bf
	return nil
}
func (f *fakeBrainStore) BrainFiles(_ context.Context, ownerID string) ([]domain.BrainFile, error) {
	out := make([]domain.BrainFile, 0, len(f.files[ownerID]))
	for _, bf := range f.files[ownerID] {
		out = append(out, bf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileKey < out[j].FileKey })
	return out, nil
}
func (f *fakeBrainStore) BrainFilesByType(ctx context.Context, ownerID string, t domain.BrainFileType) ([]domain.BrainFile, error) {
	all, _ := f.BrainFiles(ctx, ownerID)
	out := make([]domain.BrainFile, 0, len(all))
	for _, bf := range all {
		if bf.FileType == t {
			out = append(out, bf)
		}
	}
	return out, nil
}
func (f *fakeBrainStore) DeleteBrainFilesNotIn(_ context.Context, ownerID string, keep []string) error {
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	for key, bf := range f.files[ownerID] {
		if !keepSet[key] && !(bf.IsUserEdited && domain.CoreFileTypes[bf.FileType]) {
			delete(f.files[ownerID], key)
		}
	}
	return nil
}
func (f *fakeBrainStore) GetBrainConversation(_ context.Context, _, id string) (domain.BrainConversation, error) {
	c, ok := f.conversations[id]
	if !ok {
		return domain.BrainConversation{}, errs.ErrNotFound
	}
	return c, nil
}
func (f *fakeBrainStore) PutBrainConversation(_ context.Context, c domain.BrainConversation) error {
	f.conversations[c.ID] = c
	return nil
}
func (f *fakeBrainStore) AppendBrainMessage(_ context.Context, m domain.BrainMessage) error {
	f.messages[m.ConversationID] = append(f.messages[m.ConversationID], m)
	return nil
}
func (f *fakeBrainStore) BrainMessages(_ context.Context, conversationID string, limit int) ([]domain.BrainMessage, error) {
	all := f.messages[conversationID]
	if limit <= 0 || limit >= len(all) {
		return append([]domain.BrainMessage(nil), all...), nil
	}
	return append([]domain.BrainMessage(nil), all[len(all)-limit:]...), nil
}

type fakeClusterer struct {
	communities []domain.CommunityMetadata
	err         error
}

func (f *fakeClusterer) DetectCommunities(context.Context, string) ([]domain.CommunityMetadata, error) {
	return f.communities, f.err
}

type fakeEmbedClient struct {
	dim int
}

func (f *fakeEmbedClient) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}
func (f *fakeEmbedClient) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}
func (f *fakeEmbedClient) Dimension() int             { return f.dim }
func (f *fakeEmbedClient) Ping(context.Context) error { return nil }

type fakeProvider struct {
	reply string
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Generate(_ context.Context, _ []llm.Message, model string, _ float64, _ int) (llm.GenerateResult, error) {
	return llm.GenerateResult{Content: f.reply, Model: model, Provider: "fake"}, nil
}
func (f *fakeProvider) Stream(context.Context, []llm.Message, string, float64, int, llm.StreamHandler) (llm.Usage, error) {
	return llm.Usage{}, nil
}
func (f *fakeProvider) HealthCheck(context.Context) error            { return nil }
func (f *fakeProvider) ListModels(context.Context) ([]string, error) { return nil, nil }

func newRegistry(reply string) *llm.Registry {
	reg := llm.NewRegistry(llm.NewUsageLogger(nil))
	reg.Register(&fakeProvider{reply: reply}, config.Config{CircuitFailureThreshold: 3, CircuitRecoveryTimeoutS: 30})
	return reg
}
