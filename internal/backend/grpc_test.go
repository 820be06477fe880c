package backend

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newBufconnClient(t *testing.T, mem *Memory) *GRPCClient {
	t.Helper()
	return newBufconnClientTimeout(t, mem, 5*time.Second)
}

func newBufconnClientTimeout(t *testing.T, mem *Memory, callTimeout time.Duration) *GRPCClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(ServerOptions()...)
	RegisterServer(srv, mem)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client, err := NewGRPCClient(GRPCClientConfig{Conn: conn, Uploader: mem, CallTimeout: callTimeout})
	require.NoError(t, err)
	return client
}

func TestNewGRPCClient_RequiresConn(t *testing.T) {
	t.Parallel()

	_, err := NewGRPCClient(GRPCClientConfig{})
	assert.Error(t, err)
}

func TestGRPCClient_Books(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	mem.PutBook(Book{ID: "b1", Title: "The Brave Fox", PageCount: 3, LastReadPageIndex: 1})
	mem.PutPage(Page{BookID: "b1", Index: 0, Text: "Once upon a time", ImageURL: "https://img/0.png"})

	client := newBufconnClient(t, mem)
	ctx := context.Background()

	book, err := client.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "The Brave Fox", book.Title)
	assert.Equal(t, 3, book.PageCount)
	assert.Equal(t, 1, book.LastReadPageIndex)

	page, err := client.GetBookPage(ctx, "b1", 0)
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time", page.Text)
	assert.True(t, page.HasImage())
}

func TestGRPCClient_NotFoundMapsToSentinel(t *testing.T) {
	t.Parallel()

	client := newBufconnClient(t, NewMemory())

	_, err := client.GetBook(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.GetBookPage(context.Background(), "missing", 4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGRPCClient_UploadAndCompose(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	client := newBufconnClient(t, mem)
	ctx := context.Background()

	itemID, err := UploadBlob(ctx, client, []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	blob, ok := mem.Asset(itemID)
	require.True(t, ok)
	assert.Equal(t, []byte("png-bytes"), blob)

	res, err := client.AddClothesToComposite(ctx, ClothesRequest{
		ItemID:      "shirt-blue",
		Description: "a blue shirt",
		ItemAssetID: itemID,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.AssetID)
	assert.NotEmpty(t, res.ImageURL)

	res, err = client.AddAccessoryToComposite(ctx, AccessoryRequest{
		ItemID:      "crown-gold",
		Kind:        "hat",
		ItemAssetID: "asset-unknown",
		BaseAssetID: res.AssetID,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)

	assert.Equal(t, 1, mem.Calls("AddClothesToComposite"))
	assert.Equal(t, 1, mem.Calls("AddAccessoryToComposite"))
}

func TestGRPCClient_UnlockError(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	client := newBufconnClient(t, mem)

	require.NoError(t, client.UnlockWardrobe(context.Background()))

	mem.SetUnlockError(assert.AnError)
	assert.Error(t, client.UnlockWardrobe(context.Background()))
	assert.Equal(t, 2, mem.Calls("UnlockWardrobe"))
}

func TestGRPCClient_StoryJobs(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	client := newBufconnClient(t, mem)
	ctx := context.Background()

	job, err := client.SubmitStoryJob(ctx, StoryJobParams{Prompt: "a dragon who loves tea", PageCount: 8})
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)
	assert.Equal(t, 8, job.ReservedCredits)

	require.NoError(t, mem.UpdateJob(job.ID, func(j *StoryJob) {
		j.Status = JobComplete
		j.Progress = 100
		j.BookID = "b-dragon"
	}))

	got, err := client.GetStoryJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobComplete, got.Status)
	assert.Equal(t, "b-dragon", got.BookID)

	_, err = client.SubmitStoryJob(ctx, StoryJobParams{})
	assert.Error(t, err)
}

func TestGRPCClient_CallTimeout(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	mem.SetCompose(func(ctx context.Context, call CompositeCall) (CompositeResult, error) {
		time.Sleep(300 * time.Millisecond)
		return CompositeResult{Success: true, AssetID: "slow"}, nil
	})
	client := newBufconnClientTimeout(t, mem, 100*time.Millisecond)
	ctx := context.Background()

	_, err := client.AddClothesToComposite(ctx, ClothesRequest{ItemID: "shirt-blue"})
	require.Error(t, err)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))

	res, err := client.AddClothesToComposite(WithoutCallTimeout(ctx), ClothesRequest{ItemID: "shirt-blue"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "slow", res.AssetID)
}

func TestWithCallTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := withCallTimeout(context.Background(), time.Minute)
	defer cancel()
	_, ok := ctx.Deadline()
	assert.True(t, ok, "plain context gets the default deadline")

	ctx, cancel = withCallTimeout(WithoutCallTimeout(context.Background()), time.Minute)
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok, "marked context stays unbounded")

	parent, parentCancel := context.WithTimeout(WithoutCallTimeout(context.Background()), time.Hour)
	defer parentCancel()
	want, _ := parent.Deadline()
	ctx, cancel = withCallTimeout(parent, time.Minute)
	defer cancel()
	got, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.Equal(t, want, got, "caller deadline wins")
}
