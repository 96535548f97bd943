package mongoutil

import (
	"context"
	"errors"
	"testing"

	"PRealtime/tools/errs"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestValidateAndSetDefaults(t *testing.T) {
	req := require.New(t)

	c := &Config{Address: []string{"h1:27017", "h2:27017"}, Database: "chat", Username: "u", Password: "p"}
	req.NoError(c.ValidateAndSetDefaults())
	req.Equal("mongodb://u:p@h1:27017,h2:27017/chat?authSource=chat&maxPoolSize=100", c.Uri)
	req.Equal(defaultMaxRetry, c.MaxRetry)

	c = &Config{Address: []string{"h1"}, Database: "chat", AuthSource: "admin", MaxPoolSize: 5}
	req.NoError(c.ValidateAndSetDefaults())
	req.Equal("mongodb://h1/chat?authSource=admin&maxPoolSize=5", c.Uri)

	req.True(errors.Is((&Config{Database: "x"}).ValidateAndSetDefaults(), errs.ErrInvalidState))
	req.True(errors.Is((&Config{Uri: "mongodb://x"}).ValidateAndSetDefaults(), errs.ErrInvalidState))
}

func TestShouldRetry(t *testing.T) {
	req := require.New(t)

	req.True(shouldRetry(context.Background(), errors.New("dial")))
	req.False(shouldRetry(context.Background(), mongo.CommandError{Code: 18}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req.False(shouldRetry(ctx, errors.New("dial")))
}
