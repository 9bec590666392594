package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	out *ssm.GetParameterOutput
	err error
	in  *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.in = in
	return f.out, f.err
}

func strPtr(s string) *string { return &s }

func TestGetParameter(t *testing.T) {
	api := &fakeAPI{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/rag-portal/openai-api-key"), Value: strPtr("sk-123"), Type: types.ParameterTypeSecureString,
	}}}
	c, err := New(api)
	require.NoError(t, err)

	v, err := c.GetParameter(context.Background(), " /rag-portal/openai-api-key ")
	require.NoError(t, err)
	require.Equal(t, "sk-123", v)
	require.Equal(t, "/rag-portal/openai-api-key", *api.in.Name)
	require.True(t, *api.in.WithDecryption)
}

func TestGetParameter_Failures(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")

	_, err = (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")

	c, _ := New(&fakeAPI{})
	_, err = c.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")

	c, _ = New(&fakeAPI{err: errors.New("boom")})
	_, err = c.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")

	c, _ = New(&fakeAPI{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}})
	_, err = c.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")
}
