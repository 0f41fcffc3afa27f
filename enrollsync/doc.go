// Package enrollsync pulls enrollment photos from remote object storage into
// the local enrollment store.
//
// Remote objects follow cats/{user_id}/{cat_uid}/{file}. Each cat's images
// are downloaded, decoded, embedded and registered in one call; a bad image
// is skipped and reported, never fatal.
package enrollsync
