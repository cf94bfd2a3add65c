package knowledge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/codewandler/rtsession-go/tool"
)

type request struct {
	path        string
	contentType string
	body        string
}

// backend answers every path with a canned response and records requests.
func backend(t *testing.T, responses map[string]string) (*httptest.Server, func() []request) {
	t.Helper()
	var mu sync.Mutex
	var got []request

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, request{path: r.URL.Path, contentType: r.Header.Get("Content-Type"), body: string(body)})
		mu.Unlock()

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		res, ok := responses[r.URL.Path]
		if !ok {
			http.Error(w, "no such endpoint", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, res)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []request {
		mu.Lock()
		defer mu.Unlock()
		return append([]request(nil), got...)
	}
}

func registry(t *testing.T, bindings []tool.Binding) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry(nil)
	require.NoError(t, r.RegisterAll(bindings...))
	return r
}

func TestClientDefaults(t *testing.T) {
	require.Equal(t, DefaultBaseURL, NewClient().BaseURL())
	require.Equal(t, "http://kb:9000", NewClient(WithBaseURL(" http://kb:9000/ ")).BaseURL())
}

func TestDefaultToolSet(t *testing.T) {
	r := registry(t, Tools(NewClient()))
	var names []string
	for _, def := range r.Definitions() {
		names = append(names, def.Name)
	}
	require.Equal(t, []string{
		ExtractTextToGraphName,
		TextFromRelatedKeyConceptsName,
		TextFromEmbeddingName,
		AdditionalTextFromChunksName,
	}, names)

	require.Len(t, AllTools(NewClient()), 7)
}

func TestPassageToolPostsTextAndReturnsResults(t *testing.T) {
	srv, requests := backend(t, map[string]string{
		"/text_from_chunk_embedding/": `{"results":[{"text":"chunk one","article_title":"Paper A"},{"text":"chunk two","article_title":"Paper B"}]}`,
	})
	r := registry(t, Tools(NewClient(WithBaseURL(srv.URL))))

	res, err := r.Invoke(context.Background(), TextFromEmbeddingName, `{"query":"self correction"}`)
	require.NoError(t, err)
	require.True(t, res.OK())

	out := gjson.Parse(res.JSON())
	require.True(t, out.Get("ok").Bool())
	require.Equal(t, "chunk one", out.Get("text.results.0.text").String())
	require.Equal(t, "Paper B", out.Get("text.results.1.article_title").String())

	reqs := requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "application/json", reqs[0].contentType)
	require.JSONEq(t, `{"text":"self correction"}`, reqs[0].body)
}

func TestEndpointsAndPayloads(t *testing.T) {
	srv, requests := backend(t, map[string]string{
		"/paper_extraction_to_neo4j/":      `{"text":"stored 12 concepts"}`,
		"/text_from_related_key_concepts/": `{"results":[]}`,
		"/additional_text_from_chunks/":    `{"results":[]}`,
		"/extract_text/":                   `{"text":"Attention is all you need"}`,
		"/text_from_key_concepts/":         `{"results":[{"text":"x","article_title":"y"}]}`,
		"/keyconcepts_resolution/":         `{"text":"merged 3"}`,
	})
	r := registry(t, AllTools(NewClient(WithBaseURL(srv.URL))))
	ctx := context.Background()

	calls := []struct {
		tool string
		args string
		path string
		body string
	}{
		{ExtractTextToGraphName, `{"arxivUrl":"https://arxiv.org/abs/1706.03762"}`, "/paper_extraction_to_neo4j/", `{"url":"https://arxiv.org/abs/1706.03762"}`},
		{TextFromRelatedKeyConceptsName, `{"keyConcept":"vision language model"}`, "/text_from_related_key_concepts/", `{"text":"vision language model"}`},
		{AdditionalTextFromChunksName, `{"keyConcept":"self correction"}`, "/additional_text_from_chunks/", `{"text":"self correction"}`},
		{ExtractArxivTextName, `{"arxivUrl":"https://arxiv.org/abs/1706.03762"}`, "/extract_text/", `{"url":"https://arxiv.org/abs/1706.03762"}`},
		{TextFromKeyConceptsName, `{"texts":["test time compute","rl"]}`, "/text_from_key_concepts/", `{"texts":["test time compute","rl"]}`},
		{ResolveKeyConceptsName, ``, "/keyconcepts_resolution/", `{}`},
	}
	for _, c := range calls {
		res, err := r.Invoke(ctx, c.tool, c.args)
		require.NoError(t, err, c.tool)
		require.True(t, res.OK(), c.tool)
	}

	reqs := requests()
	require.Len(t, reqs, len(calls))
	for i, c := range calls {
		require.Equal(t, c.path, reqs[i].path)
		require.JSONEq(t, c.body, reqs[i].body)
	}

	res, _ := r.Invoke(ctx, ExtractArxivTextName, `{"arxivUrl":"https://arxiv.org/abs/1706.03762"}`)
	require.Equal(t, "Attention is all you need", gjson.Parse(res.JSON()).Get("text").String())
}

func TestBackendFailuresBecomeToolErrors(t *testing.T) {
	srv, _ := backend(t, map[string]string{
		"/text_from_chunk_embedding/": `not json`,
		"/paper_extraction_to_neo4j/": `{"status":"done"}`,
	})
	r := registry(t, AllTools(NewClient(WithBaseURL(srv.URL))))
	ctx := context.Background()

	// 404
	res, err := r.Invoke(ctx, AdditionalTextFromChunksName, `{"keyConcept":"x"}`)
	require.Error(t, err)
	require.False(t, res.OK())
	require.Contains(t, gjson.Parse(res.JSON()).Get("error").String(), "http status 404")

	res, err = r.Invoke(ctx, TextFromEmbeddingName, `{"query":"x"}`)
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	require.False(t, res.OK())

	_, err = r.Invoke(ctx, ExtractTextToGraphName, `{"arxivUrl":"https://arxiv.org/abs/1"}`)
	require.ErrorIs(t, err, ErrUnexpectedResponse)

	_, err = r.Invoke(ctx, TextFromEmbeddingName, `{"query":""}`)
	require.ErrorContains(t, err, "query must be a non-empty string")

	_, err = r.Invoke(ctx, TextFromEmbeddingName, `{}`)
	require.ErrorIs(t, err, tool.ErrMissingArgument)
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := registry(t, Tools(NewClient(WithBaseURL(url))))
	res, err := r.Invoke(context.Background(), TextFromEmbeddingName, `{"query":"x"}`)
	require.ErrorContains(t, err, "send request")
	require.False(t, res.OK())
}

func TestStringsArg(t *testing.T) {
	got, err := stringsArg(map[string]any{"texts": []any{"a", "b"}}, "texts")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)

	got, err = stringsArg(map[string]any{"texts": "a"}, "texts")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got)

	_, err = stringsArg(map[string]any{"texts": []any{"a", 1.0}}, "texts")
	require.Error(t, err)
	_, err = stringsArg(map[string]any{}, "texts")
	require.Error(t, err)
}
