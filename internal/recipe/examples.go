package recipe

import (
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/loader"
	"github.com/dataforge/fetcher/internal/locator"
	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/protocol"
	"github.com/dataforge/fetcher/internal/storage"
)

// RegisterSftpToS3Example demonstrates wiring one DirectorySftpBundleLocator
// directly to the S3 storage backend, reproducing original_source's
// sftp_to_s3.py as a Registry entry. It is not called from main; an
// operator wires their own recipes the same way, substituting real
// collaborators (store, s3Client, sftpManager) for their own deployment.
func RegisterSftpToS3Example(reg *Registry, store kvstore.Store, sftpManager *protocol.SftpManager, s3Client *s3.Client, logger logging.Logger) {
	reg.Register("sftp_to_s3_example", func() (*model.FetcherRecipe, error) {
		const recipeID = "sftp_to_s3_example"

		sftpCfg := protocol.SftpProtocolConfig{
			Name: recipeID,
			Host: "sftp.example.internal",
			Port: 22,
			User: "fetcher",
		}

		bundleStorage := storage.NewS3Sink(s3Client, "example-bucket", recipeID, 0, logger)
		bundleLoader := loader.NewSftpBundleLoader(recipeID, sftpManager, sftpCfg, bundleStorage, nil, logger)

		l := locator.NewDirectorySftpBundleLocator(
			recipeID,
			recipeID,
			store,
			sftpManager,
			sftpCfg,
			"/incoming",
			"*.csv",
			locator.AcceptAllFilter{},
			locator.MtimeSort{Descending: false},
		)

		return &model.FetcherRecipe{
			RecipeID:       recipeID,
			BundleLocators: []model.BundleLocator{l},
			BundleLoader:   bundleLoader,
		}, nil
	})
}
