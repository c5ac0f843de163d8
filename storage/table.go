package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

var (
	errEntityNotFound = errors.New("entity not found")
	errEntityExists   = errors.New("entity already exists")
)

// entityTable is the slice of the table API the stores rely on. Payloads are
// raw JSON entities as accepted by Azure Table Storage.
type entityTable interface {
	List(ctx context.Context, partition string, fields ...string) ([][]byte, error)
	Get(ctx context.Context, partition, row string) ([]byte, error)
	Add(ctx context.Context, payload []byte) error
	Merge(ctx context.Context, payload []byte) error
	Delete(ctx context.Context, partition, row string) error
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

type azureTable struct {
	client *aztables.Client
}

func (t azureTable) List(ctx context.Context, partition string, fields ...string) ([][]byte, error) {
	filter := "PartitionKey eq '" + escapeODataString(partition) + "'"
	opts := &aztables.ListEntitiesOptions{Filter: &filter}
	if len(fields) > 0 {
		sel := strings.Join(fields, ",")
		opts.Select = &sel
	}
	pager := t.client.NewListEntitiesPager(opts)
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translateTableError(err)
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

func (t azureTable) Get(ctx context.Context, partition, row string) ([]byte, error) {
	resp, err := t.client.GetEntity(ctx, partition, row, nil)
	if err != nil {
		return nil, translateTableError(err)
	}
	return resp.Value, nil
}

func (t azureTable) Add(ctx context.Context, payload []byte) error {
	_, err := t.client.AddEntity(ctx, payload, nil)
	return translateTableError(err)
}

func (t azureTable) Merge(ctx context.Context, payload []byte) error {
	et := azcore.ETagAny
	_, err := t.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return translateTableError(err)
}

func (t azureTable) Delete(ctx context.Context, partition, row string) error {
	_, err := t.client.DeleteEntity(ctx, partition, row, nil)
	return translateTableError(err)
}

func translateTableError(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", errEntityNotFound, respErr.ErrorCode)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", errEntityExists, respErr.ErrorCode)
		}
	}
	return err
}

func escapeODataString(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
