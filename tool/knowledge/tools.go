package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/codewandler/rtsession-go/tool"
)

const (
	ExtractArxivTextName           = "extractArxivText"
	ExtractTextToGraphName         = "extractTextToNeo4j"
	TextFromRelatedKeyConceptsName = "getTextFromRelatedKeyConcepts"
	TextFromEmbeddingName          = "getTextFromEmbedding"
	AdditionalTextFromChunksName   = "getAdditionalTextFromChunks"
	TextFromKeyConceptsName        = "getTextFromKeyConcepts"
	ResolveKeyConceptsName         = "resolveKeyConcepts"
)

const arxivURLDescription = "The URL of the arXiv abstract page (e.g., https://arxiv.org/abs/1234.5678)."

var (
	ExtractArxivTextDefinition = tool.Function(
		ExtractArxivTextName,
		"Extracts text content from an arXiv PDF given the URL of the arXiv abstract page.",
		tool.Properties{
			"arxivUrl": {Type: "string", Description: arxivURLDescription},
		},
		"arxivUrl",
	)

	ExtractTextToGraphDefinition = tool.Function(
		ExtractTextToGraphName,
		"Extracts text content from an arXiv PDF given the URL of the arXiv abstract page and extracts it to graph database in neo4j.",
		tool.Properties{
			"arxivUrl": {Type: "string", Description: arxivURLDescription},
		},
		"arxivUrl",
	)

	TextFromRelatedKeyConceptsDefinition = tool.Function(
		TextFromRelatedKeyConceptsName,
		"Gets the text from related key concepts. This is used to expand the scope of research to include related concepts not directly mentioned in the text.",
		tool.Properties{
			"keyConcept": {Type: "string", Description: `The key concept such as "multimodal vision language model" to get the text from.`},
		},
		"keyConcept",
	)

	TextFromEmbeddingDefinition = tool.Function(
		TextFromEmbeddingName,
		"Gets the text from an embedding query. Get direct text whose semantic meaning is most similar to the query.",
		tool.Properties{
			"query": {Type: "string", Description: `The query text input such as "self correction by reinforcement learning" used to retrieve the text.`},
		},
		"query",
	)

	AdditionalTextFromChunksDefinition = tool.Function(
		AdditionalTextFromChunksName,
		"Gets additional text from chunks. This is used to synthesize research from many sources, by including additional text from different articles.",
		tool.Properties{
			"keyConcept": {Type: "string", Description: `The key concept such as "self correction" to get the additional text from.`},
		},
		"keyConcept",
	)

	TextFromKeyConceptsDefinition = tool.Function(
		TextFromKeyConceptsName,
		"Retrieves the text from a list of key concepts. Used to get many texts from various sources that share the same key concepts.",
		tool.Properties{
			"texts": {Type: "array", Description: `The list of key concepts to get the text from such as ["test time compute","reinforcement learning"] where each string is a key concept.`},
		},
		"texts",
	)

	ResolveKeyConceptsDefinition = tool.Function(
		ResolveKeyConceptsName,
		"Resolves the key concepts in the text.",
		nil,
	)
)

// Tools returns the research tools a session registers by default.
func Tools(c *Client) []tool.Binding {
	return []tool.Binding{
		{Tool: ExtractTextToGraphDefinition, Handler: textHandler("arxivUrl", c.ExtractToGraph)},
		{Tool: TextFromRelatedKeyConceptsDefinition, Handler: passagesHandler("keyConcept", c.TextFromRelatedKeyConcepts)},
		{Tool: TextFromEmbeddingDefinition, Handler: passagesHandler("query", c.TextFromEmbedding)},
		{Tool: AdditionalTextFromChunksDefinition, Handler: passagesHandler("keyConcept", c.AdditionalTextFromChunks)},
	}
}

// AllTools is Tools plus the extraction and maintenance tools of the
// knowledge service.
func AllTools(c *Client) []tool.Binding {
	return append(Tools(c),
		tool.Binding{Tool: ExtractArxivTextDefinition, Handler: textHandler("arxivUrl", c.ExtractArxivText)},
		tool.Binding{Tool: TextFromKeyConceptsDefinition, Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			concepts, err := stringsArg(args, "texts")
			if err != nil {
				return nil, err
			}
			passages, err := c.TextFromKeyConcepts(ctx, concepts)
			if err != nil {
				return nil, err
			}
			return passagesPayload(passages), nil
		}},
		tool.Binding{Tool: ResolveKeyConceptsDefinition, Handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			text, err := c.ResolveKeyConcepts(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"text": text}, nil
		}},
	)
}

func textHandler(arg string, fn func(context.Context, string) (string, error)) tool.Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		v, err := stringArg(args, arg)
		if err != nil {
			return nil, err
		}
		text, err := fn(ctx, v)
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": text}, nil
	}
}

func passagesHandler(arg string, fn func(context.Context, string) ([]Passage, error)) tool.Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		v, err := stringArg(args, arg)
		if err != nil {
			return nil, err
		}
		passages, err := fn(ctx, v)
		if err != nil {
			return nil, err
		}
		return passagesPayload(passages), nil
	}
}

// passagesPayload keeps the service's {"results": [...]} shape under text.
func passagesPayload(passages []Passage) map[string]any {
	return map[string]any{"text": map[string]any{"results": passages}}
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s must be a non-empty string", name)
	}
	return v, nil
}

func stringsArg(args map[string]any, name string) ([]string, error) {
	switch v := args[name].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a list of strings", name)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		// a single concept instead of a list
		return []string{v}, nil
	}
	return nil, fmt.Errorf("%s must be a list of strings", name)
}
